package mifare

// KeySource records which candidate list produced a successful authentication.
type KeySource string

const (
	KeySourceNone     KeySource = ""
	KeySourceDerived  KeySource = "derived"
	KeySourceFallback KeySource = "fallback"
)

// SectorAuth is the authentication outcome for one sector.
// KeyIndex is -1 when the sector was not authenticated.
type SectorAuth struct {
	Sector        int       `json:"sector"`
	Authenticated bool      `json:"authenticated"`
	KeyIndex      int       `json:"key_index"`
	KeySource     KeySource `json:"key_source,omitempty"`
	Key           Key       `json:"-"`
	Attempts      int       `json:"attempts"`
}

// Image is the raw data-block image of a tag. Every data block has a fixed
// slot addressed by its absolute block number, so a missing block leaves a
// flagged gap instead of shifting later blocks. Trailer blocks have no slot.
type Image struct {
	data    [DataBlocks][BlockSize]byte
	present [DataBlocks]bool
}

// NewImage returns an empty image with every slot flagged missing.
func NewImage() *Image {
	return &Image{}
}

// slot maps an absolute block number to its data slot, or -1 for trailers
// and out-of-range blocks.
func slot(block int) int {
	if !ValidBlock(block) || IsTrailer(block) {
		return -1
	}
	return SectorOf(block)*DataBlocksPerSector + block%BlocksPerSector
}

// Set stores a block. Short payloads are zero-padded, long ones truncated.
// It reports false for trailers and out-of-range blocks.
func (img *Image) Set(block int, data []byte) bool {
	i := slot(block)
	if i < 0 {
		return false
	}
	img.data[i] = [BlockSize]byte{}
	copy(img.data[i][:], data)
	img.present[i] = true
	return true
}

// MarkMissing resets a block to the gap sentinel and flags it missing.
func (img *Image) MarkMissing(block int) {
	i := slot(block)
	if i < 0 {
		return
	}
	img.data[i] = [BlockSize]byte{}
	img.present[i] = false
}

// Block returns a copy of the block and whether it was read.
// Missing, trailer and out-of-range blocks return the zero sentinel and false.
func (img *Image) Block(block int) ([]byte, bool) {
	out := make([]byte, BlockSize)
	i := slot(block)
	if i < 0 {
		return out, false
	}
	copy(out, img.data[i][:])
	return out, img.present[i]
}

// Has reports whether every listed block was read.
func (img *Image) Has(blocks ...int) bool {
	for _, b := range blocks {
		i := slot(b)
		if i < 0 || !img.present[i] {
			return false
		}
	}
	return true
}

// Span concatenates consecutive data blocks starting at block, skipping
// trailers, until n bytes are collected or the tag ends. ok is false if any
// block in the span is missing.
func (img *Image) Span(block, n int) ([]byte, bool) {
	out := make([]byte, 0, n)
	ok := true
	for b := block; ValidBlock(b) && len(out) < n; b++ {
		if IsTrailer(b) {
			continue
		}
		data, present := img.Block(b)
		if !present {
			ok = false
		}
		out = append(out, data...)
	}
	if len(out) < n {
		return out, false
	}
	return out[:n], ok
}

// PresentCount returns the number of data blocks that were read.
func (img *Image) PresentCount() int {
	n := 0
	for _, p := range img.present {
		if p {
			n++
		}
	}
	return n
}

// MissingBlocks lists the absolute numbers of data blocks that were not read.
func (img *Image) MissingBlocks() []int {
	var out []int
	for b := 0; b < TotalBlocks; b++ {
		if IsTrailer(b) {
			continue
		}
		if !img.present[slot(b)] {
			out = append(out, b)
		}
	}
	return out
}

// Bytes returns the concatenated data blocks with zero sentinels in gaps.
// The result is always DataBlocks*BlockSize long.
func (img *Image) Bytes() []byte {
	out := make([]byte, 0, DataBlocks*BlockSize)
	for i := range img.data {
		out = append(out, img.data[i][:]...)
	}
	return out
}

// ImageFromDump builds a fully-present image from a raw 1K dump
// (64 blocks including trailers). Dumps shorter than DumpSize leave the
// tail blocks missing.
func ImageFromDump(dump []byte) *Image {
	img := NewImage()
	for b := 0; b < TotalBlocks; b++ {
		start := b * BlockSize
		if start+BlockSize > len(dump) {
			break
		}
		if IsTrailer(b) {
			continue
		}
		img.Set(b, dump[start:start+BlockSize])
	}
	return img
}
