// Package filter selects scan results for the watch command.
package filter

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// Criteria defines filtering criteria for scan results.
// All filters are ANDed together - a result must match ALL criteria to pass.
type Criteria struct {
	Since        time.Time           // Results started before Since are dropped, zero = no filter
	Until        time.Time           // Results started after Until are dropped, zero = no filter
	Kind         spooltag.ResultKind // Exact result kind, empty = no filter
	Format       spooltag.TagFormat  // Exact tag format, empty = no filter
	MaterialGlob string              // Glob over material type and name, case-insensitive
	TagUID       string              // Hex tag UID, case-insensitive
}

// Matches returns true if the result matches all filter criteria.
// Format and material filters never match results without a record.
func (c *Criteria) Matches(res *spooltag.ScanResult) bool {
	if !c.Since.IsZero() && res.StartedAt.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && res.StartedAt.After(c.Until) {
		return false
	}

	if c.Kind != "" && res.Kind != c.Kind {
		return false
	}
	if c.TagUID != "" && !strings.EqualFold(res.TagUID, c.TagUID) {
		return false
	}

	if c.Format != "" && (res.Record == nil || res.Record.Format != c.Format) {
		return false
	}
	if c.MaterialGlob != "" {
		if res.Record == nil {
			return false
		}
		if !globFold(c.MaterialGlob, res.Record.MaterialType) && !globFold(c.MaterialGlob, res.Record.MaterialName) {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() ||
		!c.Until.IsZero() ||
		c.Kind != "" ||
		c.Format != "" ||
		c.MaterialGlob != "" ||
		c.TagUID != ""
}

func globFold(pattern, s string) bool {
	if s == "" {
		return false
	}
	matched, err := filepath.Match(strings.ToUpper(pattern), strings.ToUpper(s))
	return err == nil && matched
}
