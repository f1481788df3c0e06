// Package mifare holds the MIFARE Classic 1K geometry shared by the scanner
// stages: sector keys, per-sector authentication results and the raw block
// image assembled from a tag.
package mifare

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MIFARE Classic 1K geometry.
const (
	SectorCount         = 16
	BlocksPerSector     = 4
	DataBlocksPerSector = BlocksPerSector - 1 // last block of each sector is the trailer
	BlockSize           = 16
	KeySize             = 6

	TotalBlocks = SectorCount * BlocksPerSector
	DataBlocks  = SectorCount * DataBlocksPerSector
	DumpSize    = TotalBlocks * BlockSize
)

// Key is a six-byte sector authentication key.
type Key [KeySize]byte

// String returns the key as upper-case hex, the notation reader tools use.
func (k Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// ParseKey decodes a 12-character hex key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return k, fmt.Errorf("invalid key hex %q: %w", s, err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("invalid key length %d for %q (expected %d bytes)", len(b), s, KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// KeySet is an ordered set of sector keys, indexed by sector number.
// A valid derived set has exactly SectorCount keys; a degenerate one is empty.
type KeySet []Key

// Len returns the number of keys in the set.
func (ks KeySet) Len() int { return len(ks) }

// Well-known keys used by factory-fresh and NDEF-formatted MIFARE Classic tags.
var (
	KeyTransport = Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	KeyNDEF      = Key{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
	KeyMAD       = Key{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
)

// SectorFirstBlock returns the absolute number of the first block in sector.
func SectorFirstBlock(sector int) int {
	return sector * BlocksPerSector
}

// IsTrailer reports whether the absolute block number is a sector trailer.
func IsTrailer(block int) bool {
	return block%BlocksPerSector == BlocksPerSector-1
}

// SectorOf returns the sector holding the absolute block number.
func SectorOf(block int) int {
	return block / BlocksPerSector
}

// ValidBlock reports whether block is an addressable block on a 1K tag.
func ValidBlock(block int) bool {
	return block >= 0 && block < TotalBlocks
}
