package auth

import (
	"fmt"
	"slices"

	"github.com/dyluth/spoolscan/internal/mifare"
)

// DefaultRequiredSectors are the sectors that must authenticate for a scan
// to proceed. Sector 0 carries the manufacturer block and the start of the
// Bambu payload; sector 1 carries the Creality record and the first NDEF
// TLV. Override per deployment; the observed tags do not pin this down.
var DefaultRequiredSectors = []int{0, 1}

// DefaultBambuSectors are the sectors holding the Bambu payload blocks
// (1–16); the Bambu format is only claimed when all of them accepted
// derived keys.
var DefaultBambuSectors = []int{0, 1, 2, 3, 4}

// DefaultFallbackKeys are tried after the derived keys, so factory-fresh and
// NDEF-formatted tags can be read.
var DefaultFallbackKeys = []mifare.Key{mifare.KeyTransport, mifare.KeyNDEF, mifare.KeyMAD}

// Policy controls which sectors are attempted and which must succeed.
type Policy struct {
	// Sectors to attempt, in order. Empty means all sectors.
	Sectors []int

	// RequiredSectors must all authenticate or the scan fails authentication.
	RequiredSectors []int

	// BambuSectors must all authenticate with derived keys for the Bambu format.
	BambuSectors []int

	// FallbackKeys are tried after the derived keys. nil selects
	// DefaultFallbackKeys; an empty non-nil slice disables fallback.
	FallbackKeys []mifare.Key
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if len(p.Sectors) == 0 {
		p.Sectors = make([]int, mifare.SectorCount)
		for i := range p.Sectors {
			p.Sectors[i] = i
		}
	}
	if p.RequiredSectors == nil {
		p.RequiredSectors = slices.Clone(DefaultRequiredSectors)
	}
	if p.BambuSectors == nil {
		p.BambuSectors = slices.Clone(DefaultBambuSectors)
	}
	if p.FallbackKeys == nil {
		p.FallbackKeys = slices.Clone(DefaultFallbackKeys)
	}
	return p
}

// Validate checks sector numbers and that required sectors are attempted.
func (p Policy) Validate() error {
	p = p.withDefaults()
	for _, s := range p.Sectors {
		if s < 0 || s >= mifare.SectorCount {
			return fmt.Errorf("sector %d out of range (0-%d)", s, mifare.SectorCount-1)
		}
	}
	for _, s := range p.RequiredSectors {
		if !slices.Contains(p.Sectors, s) {
			return fmt.Errorf("required sector %d is not in the attempted sectors", s)
		}
	}
	for _, s := range p.BambuSectors {
		if s < 0 || s >= mifare.SectorCount {
			return fmt.Errorf("bambu sector %d out of range (0-%d)", s, mifare.SectorCount-1)
		}
	}
	return nil
}
