package printer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"

	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// Output formats accepted by --output.
const (
	OutputDefault = "default"
	OutputJSON    = "json"
)

// ValidOutput reports whether s names a supported output format.
func ValidOutput(s string) bool {
	return s == OutputDefault || s == OutputJSON
}

// FormatJSON writes v as pretty-printed JSON followed by a newline.
func FormatJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON output: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

// FormatResult writes a human-readable scan result: a coloured status
// line, then the decoded record when there is one.
func FormatResult(w io.Writer, res spooltag.ScanResult) {
	status := red
	switch res.Kind {
	case spooltag.ResultSuccess:
		status = green
	case spooltag.ResultNoTag, spooltag.ResultInvalidTag:
		status = yellow
	}
	status.Fprintf(w, "%s\n", res.String())

	if res.TagUID != "" {
		fmt.Fprintf(w, "  %-14s %s\n", "Tag UID:", res.TagUID)
	}
	if res.ScanID != "" {
		fmt.Fprintf(w, "  %-14s %s\n", "Scan ID:", res.ScanID)
	}
	if res.DurationMs > 0 {
		fmt.Fprintf(w, "  %-14s %dms\n", "Duration:", res.DurationMs)
	}

	if res.Record != nil {
		fmt.Fprintln(w)
		FormatRecord(w, res.Record)
	}
}

// FormatRecord writes the record's fields, one per line. Fields the tag
// did not carry are omitted.
func FormatRecord(w io.Writer, r *spooltag.FilamentRecord) {
	row := func(label, value string) {
		if value == "" || value == "0" {
			return
		}
		bold.Fprintf(w, "  %-14s ", label+":")
		fmt.Fprintf(w, "%s\n", value)
	}

	format := string(r.Format)
	if r.FormatVariant != "" {
		format += " (" + r.FormatVariant + ")"
	}
	row("Format", format)
	row("Manufacturer", r.Manufacturer)
	row("Material", r.MaterialType)
	row("Name", r.MaterialName)
	row("Material ID", r.MaterialID)

	for i, c := range r.Colors {
		label := "Colour"
		if len(r.Colors) > 1 {
			label = fmt.Sprintf("Colour %d", i+1)
		}
		bold.Fprintf(w, "  %-14s ", label+":")
		fmt.Fprintf(w, "%s %s\n", swatch(c), c)
	}

	row("Nozzle", tempRange(r.NozzleTempMinC, r.NozzleTempMaxC))
	if r.BedTempC > 0 {
		row("Bed", fmt.Sprintf("%d°C", r.BedTempC))
	}
	if r.DryingTempC > 0 {
		drying := fmt.Sprintf("%d°C", r.DryingTempC)
		if r.DryingHours > 0 {
			drying += fmt.Sprintf(" for %dh", r.DryingHours)
		}
		row("Drying", drying)
	}
	if r.SpoolMassG > 0 {
		row("Mass", fmt.Sprintf("%dg", r.SpoolMassG))
	}
	if r.DiameterMM > 0 {
		row("Diameter", strconv.FormatFloat(r.DiameterMM, 'f', 2, 64)+"mm")
	}
	if r.FilamentLengthM > 0 {
		row("Length", fmt.Sprintf("%dm", r.FilamentLengthM))
	}
	row("Produced", r.ProductionDate)
	row("Serial", r.SerialNumber)
	row("Fingerprint", r.TagFingerprint)
}

// FormatKeys writes one derived key per sector as a table.
func FormatKeys(w io.Writer, uid []byte, keys mifare.KeySet) {
	fmt.Fprintf(w, "Keys for UID %X:\n\n", uid)
	fmt.Fprintf(w, "%-7s %s\n", "SECTOR", "KEY")
	fmt.Fprintf(w, "%-7s %s\n", "------", "------------")
	for i, k := range keys {
		fmt.Fprintf(w, "%-7d %s\n", i, k)
	}
}

func tempRange(lo, hi int) string {
	switch {
	case lo > 0 && hi > 0:
		return fmt.Sprintf("%d-%d°C", lo, hi)
	case hi > 0:
		return fmt.Sprintf("up to %d°C", hi)
	case lo > 0:
		return fmt.Sprintf("from %d°C", lo)
	}
	return ""
}

// swatch renders a two-cell block in the given RGBA colour. Malformed
// colours render as blanks.
func swatch(rgba string) string {
	b, err := hex.DecodeString(rgba)
	if err != nil || len(b) < 3 {
		return "  "
	}
	return color.RGB(int(b[0]), int(b[1]), int(b[2])).Sprint("██")
}
