package format

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/internal/ndef"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// MIME types of the supported open tag payloads.
const (
	MIMEOpenTag3D    = "application/opentag3d"
	MIMEOpenPrintTag = "application/vnd.openprinttag"
	MIMEOpenSpool    = "application/json"
)

// Format variants reported on the record.
const (
	VariantOpenTag3D    = "opentag3d"
	VariantOpenPrintTag = "openprinttag"
	VariantOpenSpool    = "openspool"
)

const ndefFirstBlock = 4

// userArea returns the contiguous run of present data blocks from block 4.
// The run stops at the first missing block so a gap truncates the message
// rather than splicing zeros into it.
func userArea(img *mifare.Image) []byte {
	var out []byte
	for b := ndefFirstBlock; b < mifare.TotalBlocks; b++ {
		if mifare.IsTrailer(b) {
			continue
		}
		data, ok := img.Block(b)
		if !ok {
			break
		}
		out = append(out, data...)
	}
	return out
}

// hasNDEF reports whether the user area holds a message TLV whose first
// record header is well formed.
func hasNDEF(img *mifare.Image) bool {
	raw, err := ndef.FindMessage(userArea(img))
	if err != nil || len(raw) == 0 {
		return false
	}
	return ndef.ValidHeader(raw[0])
}

type openTagDecoder struct{}

func (openTagDecoder) Format() spooltag.TagFormat { return spooltag.FormatOpenTag }

func (openTagDecoder) Decode(img *mifare.Image) (*spooltag.FilamentRecord, error) {
	msg, err := ndef.Parse(userArea(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeValidation, err)
	}
	rec := msg.FirstMIME()
	if rec == nil {
		return nil, invalid("ndef message has no MIME record")
	}

	switch strings.ToLower(rec.MIMEType()) {
	case MIMEOpenTag3D:
		return decodeOpenTag3D(rec.Payload)
	case MIMEOpenPrintTag:
		return decodeOpenPrintTag(rec.Payload)
	case MIMEOpenSpool:
		return decodeOpenSpool(rec.Payload)
	default:
		return nil, invalid("unsupported MIME type %q", rec.MIMEType())
	}
}

// OpenTag3D binary payload, big-endian:
//
//	offset  len  field
//	0       2    tag version
//	2       5    base material
//	7       5    material modifiers
//	12      16   manufacturer
//	28      32   colour name
//	60      4    colour RGBA
//	64      2    diameter in micrometres
//	66      2    filament weight in grams
//	68      2    print temperature in C
//	70      2    bed temperature in C
//	72      2    filament length in metres
const openTag3DMinLen = 74

func decodeOpenTag3D(p []byte) (*spooltag.FilamentRecord, error) {
	if len(p) < openTag3DMinLen {
		return nil, invalid("opentag3d payload is %d bytes, need %d", len(p), openTag3DMinLen)
	}
	u16 := func(off int) int { return int(binary.BigEndian.Uint16(p[off : off+2])) }

	base, ok := text(p[2:7])
	if !ok || base == "" {
		return nil, invalid("opentag3d base material is not readable text")
	}
	modifiers, _ := text(p[7:12])
	manufacturer, _ := text(p[12:28])
	colorName, _ := text(p[28:60])

	material := base
	if modifiers != "" {
		material = base + "-" + modifiers
	}

	rec := &spooltag.FilamentRecord{
		Manufacturer:    manufacturer,
		MaterialType:    canonicalMaterial(material),
		MaterialName:    colorName,
		Colors:          []string{rgbaHex(p[60:64])},
		SpoolMassG:      inRange(u16(66), 1, 10000),
		NozzleTempMaxC:  inRange(u16(68), 1, 500),
		BedTempC:        inRange(u16(70), 1, 150),
		FilamentLengthM: inRange(u16(72), 1, 10000),
		FormatVariant:   VariantOpenTag3D,
	}
	if um := u16(64); um >= 1000 && um <= 3500 {
		rec.DiameterMM = float64(um) / 1000
	}
	return rec, nil
}

// OpenPrintTag payloads are CBOR maps keyed by small integers.
type openPrintTag struct {
	MaterialType      *uint64  `cbor:"9,keyasint,omitempty"`
	MaterialName      string   `cbor:"10,keyasint,omitempty"`
	BrandName         string   `cbor:"11,keyasint,omitempty"`
	ManufacturedDate  uint64   `cbor:"14,keyasint,omitempty"`
	NominalWeightG    float64  `cbor:"16,keyasint,omitempty"`
	PrimaryColor      []byte   `cbor:"19,keyasint,omitempty"`
	SecondaryColors   [][]byte `cbor:"20,keyasint,omitempty"`
	DiameterMM        float64  `cbor:"29,keyasint,omitempty"`
	NominalLengthMM   float64  `cbor:"30,keyasint,omitempty"`
	MinPrintTempC     int      `cbor:"34,keyasint,omitempty"`
	MaxPrintTempC     int      `cbor:"35,keyasint,omitempty"`
	MinBedTempC       int      `cbor:"37,keyasint,omitempty"`
	MaxBedTempC       int      `cbor:"38,keyasint,omitempty"`
	DryingTempC       int      `cbor:"57,keyasint,omitempty"`
	DryingTimeMinutes int      `cbor:"58,keyasint,omitempty"`
}

var openPrintTagDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 256,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

func decodeOpenPrintTag(p []byte) (*spooltag.FilamentRecord, error) {
	var t openPrintTag
	if err := openPrintTagDecMode.Unmarshal(p, &t); err != nil {
		return nil, fmt.Errorf("%w: openprinttag cbor: %w", ErrDecodeValidation, err)
	}
	if t.MaterialType == nil && t.MaterialName == "" {
		return nil, invalid("openprinttag names neither material type nor material name")
	}

	rec := &spooltag.FilamentRecord{
		Manufacturer:   t.BrandName,
		MaterialType:   spooltag.MaterialUnknown,
		MaterialName:   t.MaterialName,
		SpoolMassG:     inRange(int(math.Round(t.NominalWeightG)), 1, 10000),
		NozzleTempMinC: inRange(t.MinPrintTempC, 1, 500),
		NozzleTempMaxC: inRange(t.MaxPrintTempC, 1, 500),
		BedTempC:       inRange(t.MaxBedTempC, 1, 150),
		DryingTempC:    inRange(t.DryingTempC, 1, 150),
		DryingHours:    inRange(int(math.Round(float64(t.DryingTimeMinutes)/60)), 1, 48),
		FormatVariant:  VariantOpenPrintTag,
	}
	if rec.BedTempC == 0 {
		rec.BedTempC = inRange(t.MinBedTempC, 1, 150)
	}
	if t.MaterialType != nil {
		if m, ok := openPrintTagMaterials[*t.MaterialType]; ok {
			rec.MaterialType = m
		}
	}
	if t.DiameterMM >= 1.0 && t.DiameterMM <= 3.5 {
		rec.DiameterMM = t.DiameterMM
	}
	if t.NominalLengthMM > 0 {
		rec.FilamentLengthM = inRange(int(math.Round(t.NominalLengthMM/1000)), 1, 10000)
	}
	if t.ManufacturedDate > 0 && t.ManufacturedDate < math.MaxInt32 {
		rec.ProductionDate = time.Unix(int64(t.ManufacturedDate), 0).UTC().Format(time.DateOnly)
	}
	for _, c := range append([][]byte{t.PrimaryColor}, t.SecondaryColors...) {
		if hexColor := colorBytes(c); hexColor != "" {
			rec.Colors = append(rec.Colors, hexColor)
		}
	}
	return rec, nil
}

// colorBytes renders a 3-byte RGB or 4-byte RGBA colour, or "" for any
// other length.
func colorBytes(c []byte) string {
	switch len(c) {
	case 3:
		return rgbaHex(append(bytes.Clone(c), 0xFF))
	case 4:
		return rgbaHex(c)
	default:
		return ""
	}
}

// OpenSpool writes numbers as strings on some firmwares and as JSON
// numbers on others.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexInt(math.Round(v))
	return nil
}

type openSpool struct {
	Protocol   string  `json:"protocol"`
	Version    string  `json:"version"`
	Type       string  `json:"type"`
	SubType    string  `json:"subtype"`
	ColorHex   string  `json:"color_hex"`
	Brand      string  `json:"brand"`
	MinTemp    flexInt `json:"min_temp"`
	MaxTemp    flexInt `json:"max_temp"`
	BedMinTemp flexInt `json:"bed_min_temp"`
	BedMaxTemp flexInt `json:"bed_max_temp"`
	Weight     flexInt `json:"weight"`
	Diameter   string  `json:"diameter"`
}

func decodeOpenSpool(p []byte) (*spooltag.FilamentRecord, error) {
	var s openSpool
	if err := json.Unmarshal(bytes.TrimRight(p, "\x00"), &s); err != nil {
		return nil, fmt.Errorf("%w: openspool json: %w", ErrDecodeValidation, err)
	}
	if !strings.EqualFold(s.Protocol, VariantOpenSpool) {
		return nil, invalid("json payload protocol %q is not openspool", s.Protocol)
	}
	if s.Type == "" {
		return nil, invalid("openspool payload has no type")
	}

	rec := &spooltag.FilamentRecord{
		Manufacturer:   s.Brand,
		MaterialType:   canonicalMaterial(s.Type),
		MaterialName:   strings.TrimSpace(s.Brand + " " + s.Type + " " + s.SubType),
		NozzleTempMinC: inRange(int(s.MinTemp), 1, 500),
		NozzleTempMaxC: inRange(int(s.MaxTemp), 1, 500),
		BedTempC:       inRange(int(s.BedMaxTemp), 1, 150),
		SpoolMassG:     inRange(int(s.Weight), 1, 10000),
		FormatVariant:  VariantOpenSpool,
	}
	if rec.BedTempC == 0 {
		rec.BedTempC = inRange(int(s.BedMinTemp), 1, 150)
	}
	if c := strings.TrimPrefix(strings.ToUpper(s.ColorHex), "#"); len(c) == 6 && isHex(c) {
		rec.Colors = []string{c + "FF"}
	} else if len(c) == 8 && isHex(c) {
		rec.Colors = []string{c}
	}
	if d, err := strconv.ParseFloat(s.Diameter, 64); err == nil && d >= 1.0 && d <= 3.5 {
		rec.DiameterMM = d
	}
	return rec, nil
}
