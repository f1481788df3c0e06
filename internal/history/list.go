// Package history lists and fetches the latest cached result per tag.
package history

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dyluth/spoolscan/internal/filter"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// OutputFormat specifies how to format the tag list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table format
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON outputs complete results as line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

// Store reads the tag cache. *publish.Publisher implements it.
type Store interface {
	ScanTags(ctx context.Context, prefix string) ([]string, error)
	Latest(ctx context.Context, uid string) (*spooltag.ScanResult, error)
}

// ListTags retrieves the latest result for every cached tag and writes them to w.
// Applies filter criteria if provided. Sorts by scan time for stable output.
// Skips malformed or expired entries with a warning to errw but continues processing.
func ListTags(ctx context.Context, store Store, instanceName string, format OutputFormat, c *filter.Criteria, w, errw io.Writer) error {
	uids, err := store.ScanTags(ctx, "")
	if err != nil {
		return err
	}

	var results []*spooltag.ScanResult
	for _, uid := range uids {
		res, err := store.Latest(ctx, uid)
		if err != nil {
			fmt.Fprintf(errw, "⚠️  Skipping tag %s (error: %v)\n", uid, err)
			continue
		}

		if c != nil && !c.Matches(res) {
			continue
		}

		results = append(results, res)
	}

	// Oldest first, UID breaks ties
	sort.Slice(results, func(i, j int) bool {
		if !results[i].StartedAt.Equal(results[j].StartedAt) {
			return results[i].StartedAt.Before(results[j].StartedAt)
		}
		return results[i].TagUID < results[j].TagUID
	})

	switch format {
	case OutputFormatDefault:
		FormatTable(w, results, instanceName)
	case OutputFormatJSON:
		if err := FormatJSONL(w, results); err != nil {
			return fmt.Errorf("failed to format JSON output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}
