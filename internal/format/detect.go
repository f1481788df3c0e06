package format

import (
	"slices"

	"github.com/dyluth/spoolscan/internal/auth"
	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// Detector classifies tag images.
type Detector struct {
	bambuSectors []int
}

// NewDetector creates a detector that claims the Bambu format only when
// every sector in bambuSectors authenticated with a derived key. nil selects
// auth.DefaultBambuSectors.
func NewDetector(bambuSectors []int) *Detector {
	if bambuSectors == nil {
		bambuSectors = auth.DefaultBambuSectors
	}
	return &Detector{bambuSectors: slices.Clone(bambuSectors)}
}

// Detect returns the first matching format in priority order Bambu,
// Creality, OpenTag, and Unknown when nothing matches. A nil image is
// Unknown.
func (d *Detector) Detect(img *mifare.Image, outcome auth.Outcome) spooltag.TagFormat {
	if img == nil {
		return spooltag.FormatUnknown
	}
	switch {
	case d.isBambu(img, outcome):
		return spooltag.FormatBambu
	case isCreality(img):
		return spooltag.FormatCreality
	case hasNDEF(img):
		return spooltag.FormatOpenTag
	default:
		return spooltag.FormatUnknown
	}
}

// Detect classifies img with the default Bambu sectors.
func Detect(img *mifare.Image, outcome auth.Outcome) spooltag.TagFormat {
	return NewDetector(nil).Detect(img, outcome)
}

func (d *Detector) isBambu(img *mifare.Image, outcome auth.Outcome) bool {
	return len(d.bambuSectors) > 0 &&
		outcome.AuthenticatedWith(mifare.KeySourceDerived, d.bambuSectors...) &&
		slices.ContainsFunc(bambuPayloadBlocks, func(b int) bool { return img.Has(b) })
}

func isCreality(img *mifare.Image) bool {
	_, ok := crealityRecord(img)
	return ok
}
