package format

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// Bambu payload block numbers. All multi-byte integers are little-endian.
const (
	bambuBlockVariant  = 1  // 0-7 variant id, 8-15 material id
	bambuBlockType     = 2  // filament type, NUL padded
	bambuBlockDetail   = 4  // detailed filament type
	bambuBlockColor    = 5  // 0-3 RGBA, 4-5 spool weight g, 8-11 diameter f32 mm
	bambuBlockTemps    = 6  // drying temp, drying hours, bed type, bed temp, max/min hotend
	bambuBlockTrayUID  = 9  // tray UID
	bambuBlockDate     = 12 // "YYYY_MM_DD_HH_MM"
	bambuBlockLength   = 14 // 4-5 filament length m
	bambuBlockMultiCol = 16 // 0-1 format id, 2-3 colour count, 4-7 second colour ABGR
)

// bambuPayloadBlocks are the data blocks the decoder reads. Detection only
// needs one of them; the rest may be unreadable without losing the format.
var bambuPayloadBlocks = []int{
	bambuBlockVariant, bambuBlockType, bambuBlockDetail, bambuBlockColor,
	bambuBlockTemps, bambuBlockTrayUID, bambuBlockDate, bambuBlockLength,
	bambuBlockMultiCol,
}

// bambuDecodeRequired must be present for a usable record: type, colour and
// temperatures.
var bambuDecodeRequired = []int{bambuBlockType, bambuBlockColor, bambuBlockTemps}

const bambuManufacturer = "Bambu Lab"

type bambuDecoder struct{}

func (bambuDecoder) Format() spooltag.TagFormat { return spooltag.FormatBambu }

func (bambuDecoder) Decode(img *mifare.Image) (*spooltag.FilamentRecord, error) {
	for _, b := range bambuDecodeRequired {
		if !img.Has(b) {
			return nil, invalid("bambu block %d missing", b)
		}
	}
	typeBlock, _ := img.Block(bambuBlockType)
	filamentType, ok := text(typeBlock)
	if !ok || filamentType == "" {
		return nil, invalid("bambu filament type is not readable text")
	}

	rec := &spooltag.FilamentRecord{
		Manufacturer: bambuManufacturer,
		MaterialType: canonicalMaterial(filamentType),
	}

	if b, ok := img.Block(bambuBlockVariant); ok {
		variant, _ := text(b[0:8])
		material, _ := text(b[8:16])
		rec.MaterialID = material
		rec.FormatVariant = variant
	}
	if b, ok := img.Block(bambuBlockDetail); ok {
		rec.MaterialName, _ = text(b)
	}

	if b, ok := img.Block(bambuBlockColor); ok {
		rec.Colors = append(rec.Colors, rgbaHex(b[0:4]))
		rec.SpoolMassG = inRange(int(binary.LittleEndian.Uint16(b[4:6])), 1, 10000)
		d := float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])))
		if d >= 1.0 && d <= 3.5 {
			rec.DiameterMM = math.Round(d*100) / 100
		}
	}

	if b, ok := img.Block(bambuBlockTemps); ok {
		u16 := func(off int) int { return int(binary.LittleEndian.Uint16(b[off : off+2])) }
		rec.DryingTempC = inRange(u16(0), 1, 150)
		rec.DryingHours = inRange(u16(2), 1, 48)
		rec.BedTempC = inRange(u16(6), 1, 150)
		rec.NozzleTempMaxC = inRange(u16(8), 1, 500)
		rec.NozzleTempMinC = inRange(u16(10), 1, 500)
		if rec.NozzleTempMinC > rec.NozzleTempMaxC && rec.NozzleTempMaxC != 0 {
			rec.NozzleTempMinC, rec.NozzleTempMaxC = 0, 0
		}
	}

	if b, ok := img.Block(bambuBlockTrayUID); ok {
		rec.SerialNumber = hexOrText(b)
	}

	if b, ok := img.Block(bambuBlockDate); ok {
		rec.ProductionDate = bambuDate(b)
	}

	if b, ok := img.Block(bambuBlockLength); ok {
		rec.FilamentLengthM = inRange(int(binary.LittleEndian.Uint16(b[4:6])), 1, 10000)
	}

	if b, ok := img.Block(bambuBlockMultiCol); ok {
		formatID := binary.LittleEndian.Uint16(b[0:2])
		count := binary.LittleEndian.Uint16(b[2:4])
		if formatID == 2 && count >= 2 {
			// stored as ABGR
			rec.Colors = append(rec.Colors, rgbaHex([]byte{b[7], b[6], b[5], b[4]}))
		}
	}

	return rec, nil
}

// hexOrText renders the tray UID, which is printable on some tags and raw
// bytes on others.
func hexOrText(b []byte) string {
	if s, ok := text(b); ok && s != "" {
		return s
	}
	return rgbaHex(b)
}

// bambuDate converts "2024_03_18_09_42" to "2024-03-18 09:42". Anything that
// does not match the layout is returned as printed, or "" if unreadable.
func bambuDate(b []byte) string {
	s, ok := text(b)
	if !ok {
		return ""
	}
	parts := strings.Split(s, "_")
	if len(parts) != 5 {
		return s
	}
	for _, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return s
		}
	}
	return parts[0] + "-" + parts[1] + "-" + parts[2] + " " + parts[3] + ":" + parts[4]
}
