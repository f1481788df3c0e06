package spooltag

import (
	"fmt"
	"time"
)

// TagFormat identifies which on-tag encoding a spool uses.
// Detection picks exactly one format per scan; Unknown is always a safe answer.
type TagFormat string

const (
	// FormatBambu is the Bambu Lab proprietary binary layout on HKDF-keyed MIFARE Classic tags
	FormatBambu TagFormat = "bambu"

	// FormatCreality is the Creality CFS ASCII record stored in sector 1
	FormatCreality TagFormat = "creality"

	// FormatOpenTag is any open NDEF-based spool tag (OpenTag3D, OpenPrintTag, OpenSpool)
	FormatOpenTag TagFormat = "opentag"

	// FormatUnknown means no decoder recognised the tag contents
	FormatUnknown TagFormat = "unknown"
)

// Validate checks that the format is one of the defined values.
func (f TagFormat) Validate() error {
	switch f {
	case FormatBambu, FormatCreality, FormatOpenTag, FormatUnknown:
		return nil
	default:
		return fmt.Errorf("invalid tag format: %q", string(f))
	}
}

// MaterialUnknown is the category used when a tag names a material we cannot map.
const MaterialUnknown = "UNKNOWN"

// FilamentRecord is the decoded, format-independent description of a spool.
// Records are only built by a decoder that has validated its input, so a
// non-nil record never carries half-parsed fields. Zero numeric values mean
// the tag did not carry (or carried an out-of-range value for) that field.
type FilamentRecord struct {
	Format       TagFormat `json:"format"`
	Manufacturer string    `json:"manufacturer"`
	MaterialType string    `json:"material_type"`           // Base material, e.g. "PLA"; MaterialUnknown if unmapped
	MaterialName string    `json:"material_name,omitempty"` // Detailed product name, e.g. "PLA Basic"
	MaterialID   string    `json:"material_id,omitempty"`   // Vendor material/variant code as printed on the tag

	Colors []string `json:"colors"` // RGBA hex strings, first entry is the primary colour

	NozzleTempMinC int `json:"nozzle_temp_min_c,omitempty"`
	NozzleTempMaxC int `json:"nozzle_temp_max_c,omitempty"`
	BedTempC       int `json:"bed_temp_c,omitempty"`
	DryingTempC    int `json:"drying_temp_c,omitempty"`
	DryingHours    int `json:"drying_hours,omitempty"`

	SpoolMassG      int     `json:"spool_mass_g,omitempty"`      // Nominal filament mass on the spool
	DiameterMM      float64 `json:"diameter_mm,omitempty"`       // Filament diameter
	FilamentLengthM int     `json:"filament_length_m,omitempty"` // Nominal filament length
	ProductionDate  string  `json:"production_date,omitempty"`   // As encoded on the tag, normalised where possible
	SerialNumber    string  `json:"serial_number,omitempty"`     // Tray UID / batch serial
	TagUID          string  `json:"tag_uid"`                     // Hex-encoded hardware UID
	TagFingerprint  string  `json:"tag_fingerprint,omitempty"`   // Stable digest of UID + payload
	FormatVariant   string  `json:"format_variant,omitempty"`    // Sub-format, e.g. "opentag3d"
}

// PrimaryColor returns the first colour on the record or "" when none was decoded.
func (r *FilamentRecord) PrimaryColor() string {
	if r == nil || len(r.Colors) == 0 {
		return ""
	}
	return r.Colors[0]
}

// ResultKind is the closed set of outcomes a scan can resolve to.
type ResultKind string

const (
	// ResultSuccess carries a decoded FilamentRecord
	ResultSuccess ResultKind = "success"

	// ResultNoTag means the radio returned no tag
	ResultNoTag ResultKind = "no_tag"

	// ResultInvalidTag means the tag was read but its format is not recognised
	ResultInvalidTag ResultKind = "invalid_tag"

	// ResultReadError covers hardware failures, cancellation and timeouts
	ResultReadError ResultKind = "read_error"

	// ResultAuthenticationFailed means the required sectors could not be authenticated
	ResultAuthenticationFailed ResultKind = "authentication_failed"

	// ResultParsingError means the format was recognised but the payload failed validation
	ResultParsingError ResultKind = "parsing_error"
)

// Validate checks that the kind is one of the defined values.
func (k ResultKind) Validate() error {
	switch k {
	case ResultSuccess, ResultNoTag, ResultInvalidTag, ResultReadError, ResultAuthenticationFailed, ResultParsingError:
		return nil
	default:
		return fmt.Errorf("invalid result kind: %q", string(k))
	}
}

// ScanState is the orchestrator's lifecycle position for one scan.
type ScanState string

const (
	StateInitializing   ScanState = "initializing"
	StateAuthenticating ScanState = "authenticating"
	StateReadingData    ScanState = "reading_data"
	StateParsingData    ScanState = "parsing_data"
	StateCompleted      ScanState = "completed"
	StateError          ScanState = "error"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ScanState) IsTerminal() bool {
	return s == StateCompleted || s == StateError
}

// ScanResult is the only type downstream consumers depend on.
// Record is set only for ResultSuccess; Message only for ResultReadError and ResultParsingError.
type ScanResult struct {
	Kind    ResultKind      `json:"kind"`
	Record  *FilamentRecord `json:"record,omitempty"`
	Message string          `json:"message,omitempty"`

	ScanID     string    `json:"scan_id,omitempty"`
	TagUID     string    `json:"tag_uid,omitempty"`
	FinalState ScanState `json:"final_state,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Success builds a successful result.
func Success(record *FilamentRecord) ScanResult {
	return ScanResult{Kind: ResultSuccess, Record: record}
}

// NoTag builds a no-tag result.
func NoTag() ScanResult { return ScanResult{Kind: ResultNoTag} }

// InvalidTag builds an unrecognised-format result.
func InvalidTag() ScanResult { return ScanResult{Kind: ResultInvalidTag} }

// AuthenticationFailed builds an authentication failure result.
func AuthenticationFailed() ScanResult { return ScanResult{Kind: ResultAuthenticationFailed} }

// ReadError builds a hardware/timeout failure with a human-readable reason.
func ReadError(message string) ScanResult {
	return ScanResult{Kind: ResultReadError, Message: message}
}

// ParsingError builds a decode failure with a human-readable reason.
func ParsingError(message string) ScanResult {
	return ScanResult{Kind: ResultParsingError, Message: message}
}

// OK reports whether the scan produced a record.
func (r ScanResult) OK() bool {
	return r.Kind == ResultSuccess && r.Record != nil
}

// Validate checks the variant invariants of a result.
func (r ScanResult) Validate() error {
	switch r.Kind {
	case ResultSuccess:
		if r.Record == nil {
			return fmt.Errorf("success result requires a record")
		}
	case ResultNoTag, ResultInvalidTag, ResultAuthenticationFailed:
		if r.Record != nil {
			return fmt.Errorf("%s result must not carry a record", r.Kind)
		}
	case ResultReadError, ResultParsingError:
		if r.Record != nil {
			return fmt.Errorf("%s result must not carry a record", r.Kind)
		}
		if r.Message == "" {
			return fmt.Errorf("%s result requires a message", r.Kind)
		}
	default:
		return fmt.Errorf("invalid result kind: %q", string(r.Kind))
	}
	return nil
}

// String renders a one-line summary, used in logs and CLI output.
func (r ScanResult) String() string {
	switch r.Kind {
	case ResultSuccess:
		if r.Record == nil {
			return string(r.Kind)
		}
		return fmt.Sprintf("%s: %s %s (%s)", r.Kind, r.Record.Manufacturer, r.Record.MaterialType, r.Record.Format)
	case ResultReadError, ResultParsingError:
		return fmt.Sprintf("%s: %s", r.Kind, r.Message)
	default:
		return string(r.Kind)
	}
}
