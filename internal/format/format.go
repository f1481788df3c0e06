// Package format classifies a raw tag image and decodes it into a
// FilamentRecord. The set of decoders is closed: DecoderFor is the only way
// to obtain one and it switches over the known TagFormat values.
package format

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

var (
	// ErrUnrecognized means no decoder exists for the detected format.
	ErrUnrecognized = errors.New("unrecognized tag format")

	// ErrDecodeValidation means a required field was missing or unreadable.
	ErrDecodeValidation = errors.New("tag payload failed validation")
)

// Decoder turns an image of a known format into a record.
type Decoder interface {
	Format() spooltag.TagFormat
	Decode(img *mifare.Image) (*spooltag.FilamentRecord, error)
}

// DecoderFor returns the decoder for f. Unknown and invalid formats have none.
func DecoderFor(f spooltag.TagFormat) (Decoder, bool) {
	switch f {
	case spooltag.FormatBambu:
		return bambuDecoder{}, true
	case spooltag.FormatCreality:
		return crealityDecoder{}, true
	case spooltag.FormatOpenTag:
		return openTagDecoder{}, true
	default:
		return nil, false
	}
}

// Decode runs the decoder for f and stamps the tag identity onto the record.
func Decode(f spooltag.TagFormat, img *mifare.Image, uid []byte) (*spooltag.FilamentRecord, error) {
	dec, ok := DecoderFor(f)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognized, f)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrDecodeValidation)
	}

	rec, err := dec.Decode(img)
	if err != nil {
		return nil, err
	}
	rec.Format = dec.Format()
	rec.TagUID = strings.ToUpper(hex.EncodeToString(uid))
	rec.TagFingerprint = Fingerprint(uid, img)
	if rec.MaterialType == "" {
		rec.MaterialType = spooltag.MaterialUnknown
	}
	return rec, nil
}

// Fingerprint is a BLAKE3 digest over the UID and the data blocks, truncated
// to 128 bits. Missing blocks hash as zeros, so two reads of the same tag
// agree only when they read the same blocks.
func Fingerprint(uid []byte, img *mifare.Image) string {
	h := blake3.New()
	_, _ = h.Write(uid)
	_, _ = h.Write(img.Bytes())
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecodeValidation, fmt.Sprintf(format, args...))
}

// text returns the printable prefix of b up to the first NUL, trimmed.
// ok is false if a non-printable byte precedes the terminator.
func text(b []byte) (string, bool) {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return "", false
		}
	}
	return strings.TrimSpace(string(b)), true
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

// inRange returns v if lo <= v <= hi and 0 otherwise.
func inRange(v, lo, hi int) int {
	if v < lo || v > hi {
		return 0
	}
	return v
}

func rgbaHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
