// Package testutil fabricates spool tags for tests: data-block layouts for
// each supported format and complete 1K dumps keyed the way real tags are.
package testutil

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dyluth/spoolscan/internal/hardware"
	"github.com/dyluth/spoolscan/internal/keyderiv"
	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/internal/ndef"
)

// BambuUID is the 4-byte UID used for fabricated Bambu tags.
var BambuUID = []byte{0x5A, 0x3C, 0x91, 0x0E}

// Blocks maps absolute block numbers to their 16-byte contents.
type Blocks map[int][]byte

func block(parts ...[]byte) []byte {
	b := make([]byte, mifare.BlockSize)
	off := 0
	for _, p := range parts {
		off += copy(b[off:], p)
	}
	return b
}

func u16le(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }

// BambuBlocks returns a PLA Basic spool: black, 1000 g, 1.75 mm, 240 m,
// 190-230 C nozzle, 55 C bed, produced 2024-03-18 09:42.
func BambuBlocks(uid []byte) Blocks {
	temps := make([]byte, 0, 12)
	for _, v := range []uint16{55, 8, 1, 55, 230, 190} {
		temps = append(temps, u16le(v)...)
	}
	diameter := binary.LittleEndian.AppendUint32(nil, math.Float32bits(1.75))

	return Blocks{
		0:  block(uid, []byte{0x08, 0x04, 0x00}),
		1:  block([]byte("A00-K0\x00\x00"), []byte("GFA00\x00\x00\x00")),
		2:  block([]byte("PLA")),
		4:  block([]byte("PLA Basic")),
		5:  block([]byte{0x00, 0x00, 0x00, 0xFF}, u16le(1000), []byte{0, 0}, diameter),
		6:  block(temps),
		8:  block(make([]byte, 12), binary.LittleEndian.AppendUint32(nil, math.Float32bits(0.4))),
		9:  block([]byte("8E1A2B3C4D5E6F70")),
		10: block([]byte{0, 0, 0, 0}, u16le(6600)),
		12: block([]byte("2024_03_18_09_42")),
		13: block([]byte("20240318")),
		14: block([]byte{0, 0, 0, 0}, u16le(240)),
		16: block(u16le(2), u16le(2), []byte{0xFF, 0x00, 0x00, 0xFF}),
	}
}

// CrealityBlocks returns blocks 4-6 holding the ASCII record for a 1 kg
// Hyper PLA spool in colour hex.
func CrealityBlocks(color string) Blocks {
	record := "AB124" + "0276" + "A2" + "101001" + "0" + color + "0330" + "000001" + "00000000000000"
	return Blocks{
		4: []byte(record[0:16]),
		5: []byte(record[16:32]),
		6: []byte(record[32:48]),
	}
}

// NDEFBlocks lays a message TLV holding records out from block 4 onward,
// skipping trailers.
func NDEFBlocks(t *testing.T, records ...*ndef.Record) Blocks {
	t.Helper()
	msg, err := (&ndef.Message{Records: records}).Marshal()
	require.NoError(t, err)
	area := ndef.WrapTLV(msg)

	out := Blocks{}
	for b := 4; len(area) > 0 && b < mifare.TotalBlocks; b++ {
		if mifare.IsTrailer(b) {
			continue
		}
		n := min(len(area), mifare.BlockSize)
		out[b] = block(area[:n])
		area = area[n:]
	}
	require.Empty(t, area, "message does not fit on a 1K tag")
	return out
}

// Image returns an image with exactly the given blocks present.
func Image(blocks Blocks) *mifare.Image {
	img := mifare.NewImage()
	for b, data := range blocks {
		img.Set(b, data)
	}
	return img
}

// Dump builds a 1K dump whose sector trailers carry keys.
func Dump(blocks Blocks, keys mifare.KeySet) []byte {
	return hardware.BuildDump(blocks, keys)
}

// BambuDump is a complete Bambu tag for BambuUID, keyed with the derived
// keys for that UID.
func BambuDump() []byte {
	return Dump(BambuBlocks(BambuUID), keyderiv.DeriveKeys(BambuUID))
}
