package format

import (
	"math"
	"strconv"
	"strings"

	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// Creality stores a 48 character ASCII record across blocks 4-6:
//
//	offset  len  field
//	0       5    date code
//	5       4    vendor code
//	9       2    batch
//	11      6    filament id ("1" + five-digit material code)
//	17      7    colour "0RRGGBB"
//	24      4    length in metres
//	28      6    serial
//	34      14   reserved
const (
	crealityFirstBlock = 4
	crealityRecordLen  = 48
)

// crealityMetresPerKg converts nominal length to filament mass.
const crealityMetresPerKg = 330.0

type crealityFields struct {
	date, vendor, batch, filamentID, color, length, serial string
}

func splitCreality(raw []byte) crealityFields {
	s := string(raw)
	return crealityFields{
		date:       s[0:5],
		vendor:     s[5:9],
		batch:      s[9:11],
		filamentID: s[11:17],
		color:      s[17:24],
		length:     s[24:28],
		serial:     s[28:34],
	}
}

// crealityRecord returns the raw record when blocks 4-6 are present,
// printable and carry a numeric vendor code.
func crealityRecord(img *mifare.Image) ([]byte, bool) {
	raw, ok := img.Span(crealityFirstBlock, crealityRecordLen)
	if !ok || !printable(raw) {
		return nil, false
	}
	if !isDigits(splitCreality(raw).vendor) {
		return nil, false
	}
	return raw, true
}

type crealityDecoder struct{}

func (crealityDecoder) Format() spooltag.TagFormat { return spooltag.FormatCreality }

func (crealityDecoder) Decode(img *mifare.Image) (*spooltag.FilamentRecord, error) {
	raw, ok := crealityRecord(img)
	if !ok {
		return nil, invalid("creality record in blocks 4-6 is missing or not ASCII")
	}
	f := splitCreality(raw)

	rec := &spooltag.FilamentRecord{
		Manufacturer:   crealityVendor(f.vendor),
		MaterialType:   spooltag.MaterialUnknown,
		MaterialID:     f.filamentID,
		ProductionDate: strings.TrimSpace(f.date),
		SerialNumber:   strings.TrimSpace(f.batch + f.serial),
	}

	if m, ok := crealityMaterials[f.filamentID[1:]]; ok {
		rec.MaterialType = m.Type
		rec.MaterialName = m.Name
	}

	// A malformed colour leaves Colors empty; the rest of the record stands.
	if color := strings.ToUpper(f.color); color[0] == '0' && isHex(color[1:]) {
		rec.Colors = []string{color[1:] + "FF"}
	}

	if isDigits(f.length) {
		metres, _ := strconv.Atoi(f.length)
		rec.FilamentLengthM = inRange(metres, 1, 9999)
		if rec.FilamentLengthM > 0 {
			rec.SpoolMassG = int(math.Round(float64(metres) * 1000 / crealityMetresPerKg))
		}
	}

	return rec, nil
}

func crealityVendor(code string) string {
	if name, ok := crealityVendors[code]; ok {
		return name
	}
	return "vendor " + code
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789ABCDEFabcdef", c) {
			return false
		}
	}
	return true
}
