package clinical

import "strings"

// protectedTerms are clinical words and units that a correction rule must
// never rewrite into non-clinical text. Matching is case-insensitive on the
// whole rule pattern.
//
// The list covers dose units, severity qualifiers, anatomical qualifiers,
// and the common Australian pathology panels dictated daily on ward rounds.
var protectedTerms = map[string]struct{}{
	// Dose and measurement units.
	"mg":     {},
	"mcg":    {},
	"ml":     {},
	"mmol":   {},
	"mmhg":   {},
	"units":  {},
	"iu":     {},
	"kg":     {},
	"bpm":    {},
	"l/min":  {},
	"mmol/l": {},

	// Severity qualifiers.
	"mild":     {},
	"moderate": {},
	"severe":   {},
	"acute":    {},
	"chronic":  {},
	"critical": {},

	// Anatomical qualifiers.
	"left":      {},
	"right":     {},
	"bilateral": {},
	"proximal":  {},
	"distal":    {},
	"anterior":  {},
	"posterior": {},
	"medial":    {},
	"lateral":   {},

	// Australian pathology panels.
	"fbc":   {},
	"euc":   {},
	"lft":   {},
	"crp":   {},
	"tft":   {},
	"hba1c": {},
	"abg":   {},
	"vbg":   {},
}

// IsProtectedTerm reports whether s (trimmed, case-insensitive) is a
// protected clinical term.
func IsProtectedTerm(s string) bool {
	_, ok := protectedTerms[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// australianSpellings maps Americanised clinical spellings to the
// Australian-preferred forms used in local reports.
var australianSpellings = map[string]string{
	"anemia":     "anaemia",
	"anesthesia": "anaesthesia",
	"celiac":     "coeliac",
	"diarrhea":   "diarrhoea",
	"edema":      "oedema",
	"esophagus":  "oesophagus",
	"estrogen":   "oestrogen",
	"fetal":      "foetal",
	"hematology": "haematology",
	"hematuria":  "haematuria",
	"hemoglobin": "haemoglobin",
	"hemorrhage": "haemorrhage",
	"ischemia":   "ischaemia",
	"leukemia":   "leukaemia",
	"pediatric":  "paediatric",
	"septicemia": "septicaemia",
	"gynecology": "gynaecology",
	"orthopedic": "orthopaedic",
	"tumor":      "tumour",
	"color":      "colour",
	"fiber":      "fibre",
	"liter":      "litre",

	// US drug names dictated by clinicians trained overseas.
	"acetaminophen": "paracetamol",
	"epinephrine":   "adrenaline",
	"albuterol":     "salbutamol",
}

// AustralianSpelling returns the Australian-preferred form of word and true
// when one exists, or ("", false) otherwise. Lookup is case-insensitive.
func AustralianSpelling(word string) (string, bool) {
	au, ok := australianSpellings[strings.ToLower(strings.TrimSpace(word))]
	return au, ok
}

// AustralianSpellings returns a copy of the full spelling table. The copy is
// safe for callers to mutate.
func AustralianSpellings() map[string]string {
	out := make(map[string]string, len(australianSpellings))
	for k, v := range australianSpellings {
		out[k] = v
	}
	return out
}
