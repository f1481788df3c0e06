package history

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// FormatTable writes results as a table with columns UID, RESULT, FORMAT,
// MATERIAL, COLOUR and AGE. Returns the number of rows written.
func FormatTable(w io.Writer, results []*spooltag.ScanResult, instanceName string) int {
	if len(results) == 0 {
		fmt.Fprintf(w, "No tags found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Tags for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-20s %-22s %-9s %-18s %-9s %s\n",
		"UID", "RESULT", "FORMAT", "MATERIAL", "COLOUR", "AGE")
	fmt.Fprintf(w, "%-20s %-22s %-9s %-18s %-9s %s\n",
		"--------------------", "----------------------", "---------", "------------------", "---------", "--------")

	for _, r := range results {
		fmt.Fprintf(w, "%-20s %-22s %-9s %-18s %-9s %s\n",
			r.TagUID,
			r.Kind,
			formatFormat(r.Record),
			formatMaterial(r.Record),
			formatColour(r.Record),
			formatAge(r.StartedAt),
		)
	}

	noun := "tag"
	if len(results) != 1 {
		noun = "tags"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(results), noun)

	return len(results)
}

// FormatJSONL writes results as line-delimited JSON.
func FormatJSONL(w io.Writer, results []*spooltag.ScanResult) error {
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal scan result to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func formatFormat(r *spooltag.FilamentRecord) string {
	if r == nil {
		return "-"
	}
	return string(r.Format)
}

// formatMaterial prefers the product name, truncated for the table.
func formatMaterial(r *spooltag.FilamentRecord) string {
	if r == nil {
		return "-"
	}
	name := r.MaterialName
	if name == "" {
		name = r.MaterialType
	}
	if len(name) > 18 {
		return name[:15] + "..."
	}
	return name
}

// formatColour shows RGB only; alpha is almost always FF.
func formatColour(r *spooltag.FilamentRecord) string {
	c := r.PrimaryColor()
	if c == "" {
		return "-"
	}
	if len(c) == 8 {
		return "#" + c[:6]
	}
	return c
}

// formatAge shows relative time like "2m ago", "1h ago", etc.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
