package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dyluth/spoolscan/internal/mifare"
)

// DumpLink emulates a MIFARE Classic 1K tag from a raw 1024-byte dump in the
// layout Proxmark and Flipper tools write (64 blocks including trailers).
// Authentication succeeds when the key equals key A or key B stored in the
// sector trailer, and blocks can only be read from the last authenticated
// sector, as on real hardware.
type DumpLink struct {
	dump []byte
	uid  []byte

	// FailBlocks makes ReadBlock fail for the listed absolute blocks.
	FailBlocks map[int]bool

	mu       sync.Mutex
	active   bool
	authed   int
	requests int
	cancels  int
}

// NewDumpLink builds a link over dump. uid overrides the UID stored in
// block 0; pass nil to use the 4-byte UID from the manufacturer block.
func NewDumpLink(dump []byte, uid []byte) (*DumpLink, error) {
	if len(dump) != mifare.DumpSize {
		return nil, fmt.Errorf("dump must be %d bytes, got %d", mifare.DumpSize, len(dump))
	}
	if uid == nil {
		uid = dump[:4]
	}
	l := &DumpLink{
		dump:   bytes.Clone(dump),
		uid:    bytes.Clone(uid),
		authed: -1,
	}
	return l, nil
}

// LoadDumpLink reads a dump file and builds a link over it.
func LoadDumpLink(path string, uid []byte) (*DumpLink, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	return NewDumpLink(data, uid)
}

// RequestTechnology implements Link.
func (l *DumpLink) RequestTechnology(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests++
	l.active = true
	l.authed = -1
	return nil
}

// CancelTechnologyRequest implements Link.
func (l *DumpLink) CancelTechnologyRequest() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancels++
	l.active = false
	l.authed = -1
	return nil
}

// GetTag implements Link.
func (l *DumpLink) GetTag(ctx context.Context) (*Tag, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return nil, errors.New("technology not requested")
	}
	return &Tag{UID: bytes.Clone(l.uid), Type: "MIFARE Classic 1K"}, nil
}

// Authenticate implements Link.
func (l *DumpLink) Authenticate(ctx context.Context, sector int, key mifare.Key) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return false, Transient(errors.New("tag left the field"))
	}
	if sector < 0 || sector >= mifare.SectorCount {
		return false, fmt.Errorf("sector %d out of range", sector)
	}

	trailer := l.block(mifare.SectorFirstBlock(sector) + mifare.BlocksPerSector - 1)
	if bytes.Equal(trailer[:6], key[:]) || bytes.Equal(trailer[10:16], key[:]) {
		l.authed = sector
		return true, nil
	}
	// A failed auth drops the tag out of the authenticated state.
	l.authed = -1
	return false, nil
}

// ReadBlock implements Link.
func (l *DumpLink) ReadBlock(ctx context.Context, block int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !mifare.ValidBlock(block) {
		return nil, fmt.Errorf("block %d out of range", block)
	}
	if l.authed != mifare.SectorOf(block) {
		return nil, ErrNotAuthenticated
	}
	if l.FailBlocks[block] {
		return nil, Transient(fmt.Errorf("read of block %d failed", block))
	}
	return bytes.Clone(l.block(block)), nil
}

// Stats returns how many times the technology was requested and cancelled.
func (l *DumpLink) Stats() (requests, cancels int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests, l.cancels
}

func (l *DumpLink) block(n int) []byte {
	return l.dump[n*mifare.BlockSize : (n+1)*mifare.BlockSize]
}

// BuildDump assembles a 1K dump from data blocks and per-sector keys. Blocks
// not in data are zero. Each trailer gets keys[sector] as key A and key B
// with the transport access bits; sectors beyond len(keys) use the
// transport key. It is the inverse of what a reader tool saves and is used
// to fabricate tags.
func BuildDump(data map[int][]byte, keys mifare.KeySet) []byte {
	dump := make([]byte, mifare.DumpSize)
	for block, payload := range data {
		if !mifare.ValidBlock(block) || mifare.IsTrailer(block) {
			continue
		}
		copy(dump[block*mifare.BlockSize:(block+1)*mifare.BlockSize], payload)
	}

	accessBits := []byte{0xFF, 0x07, 0x80, 0x69}
	for sector := 0; sector < mifare.SectorCount; sector++ {
		key := mifare.KeyTransport
		if sector < len(keys) {
			key = keys[sector]
		}
		t := (mifare.SectorFirstBlock(sector) + mifare.BlocksPerSector - 1) * mifare.BlockSize
		copy(dump[t:t+6], key[:])
		copy(dump[t+6:t+10], accessBits)
		copy(dump[t+10:t+16], key[:])
	}
	return dump
}
