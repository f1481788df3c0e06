package format

import (
	"strings"

	"github.com/dyluth/spoolscan/pkg/spooltag"
)

var baseMaterials = map[string]bool{
	"PLA": true, "PETG": true, "PET": true, "ABS": true, "ASA": true,
	"TPU": true, "TPE": true, "PA": true, "PA6": true, "PA12": true,
	"PAHT": true, "PC": true, "PCTG": true, "PP": true, "PPS": true,
	"PVA": true, "BVOH": true, "HIPS": true, "PEEK": true, "PEI": true,
	"PVB": true, "PMMA": true, "CPE": true, "SUPPORT": true,
}

// canonicalMaterial upper-cases name and accepts it when its leading token
// (split on '-', ' ' or '+') is a known base polymer, so "PLA-CF" and
// "PETG HF" pass and "Unobtainium" maps to MaterialUnknown.
func canonicalMaterial(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return spooltag.MaterialUnknown
	}
	base := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == ' ' || r == '+'
	})
	if len(base) > 0 && baseMaterials[base[0]] {
		return name
	}
	return spooltag.MaterialUnknown
}

type crealityMaterial struct {
	Type string
	Name string
}

// crealityMaterials maps the five-digit material code of a Creality
// filament id to the product it names.
var crealityMaterials = map[string]crealityMaterial{
	"00001": {"PLA", "Generic PLA"},
	"00002": {"PLA", "Generic PLA-Silk"},
	"00003": {"PETG", "Generic PETG"},
	"00004": {"ABS", "Generic ABS"},
	"00005": {"TPU", "Generic TPU"},
	"00006": {"PLA-CF", "Generic PLA-CF"},
	"00007": {"ASA", "Generic ASA"},
	"00008": {"PA", "Generic PA"},
	"00009": {"PA-CF", "Generic PA-CF"},
	"00011": {"PVA", "Generic PVA"},
	"00012": {"HIPS", "Generic HIPS"},
	"01001": {"PLA", "Hyper PLA"},
	"02001": {"PLA-CF", "Hyper PLA-CF"},
	"03001": {"ABS", "Hyper ABS"},
	"06002": {"PETG", "Hyper PETG"},
	"04001": {"PLA", "CR-PLA"},
	"05001": {"PLA", "CR-Silk"},
	"06001": {"PETG", "CR-PETG"},
	"07001": {"ABS", "CR-ABS"},
	"10001": {"TPU", "CR-TPU"},
}

var crealityVendors = map[string]string{
	"0276": "Creality",
}

// openPrintTagMaterials maps the integer material type of an OpenPrintTag
// payload to its base polymer.
var openPrintTagMaterials = map[uint64]string{
	0: "PLA", 1: "PETG", 2: "TPU", 3: "ABS", 4: "ASA", 5: "PC", 6: "PCTG",
	7: "PP", 8: "PA6", 9: "PA11", 10: "PA12", 11: "PA66", 12: "CPE",
	13: "TPE", 14: "HIPS", 15: "PHA", 16: "PET", 17: "PEI", 18: "PBT",
	19: "PVB", 20: "PVA", 21: "PEKK", 22: "PEEK", 23: "BVOH",
}
