package rules

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openclinika/medlex/pkg/clinical"
)

// builtinStatic is the correction set shipped with the engine: common ASR
// mishearings of Australian clinical vocabulary, dose-unit fixes, and
// Americanised spellings. All entries are validated by a package test; the
// set must stay idempotent (no fix may re-match another rule's raw text).
func builtinStatic() []Rule {
	rules := []Rule{
		// Pathology panels the recogniser reliably garbles.
		{Raw: "full blood count", Fix: "FBC", Category: clinical.CategoryPathology},
		{Raw: "fbc's", Fix: "FBCs", Category: clinical.CategoryPathology},
		{Raw: "you see easy", Fix: "EUC", Category: clinical.CategoryPathology},
		{Raw: "liver function test", Fix: "LFT", Category: clinical.CategoryPathology},
		{Raw: "see reactive protein", Fix: "CRP", Category: clinical.CategoryPathology},
		{Raw: "haemoglobin a one c", Fix: "HbA1c", Category: clinical.CategoryPathology},
		{Raw: "trope", Fix: "troponin", Category: clinical.CategoryPathology},

		// Dose units spoken aloud.
		{Raw: "milligrams", Fix: "mg", Category: clinical.CategoryMeasurement},
		{Raw: "milligram", Fix: "mg", Category: clinical.CategoryMeasurement},
		{Raw: "micrograms", Fix: "mcg", Category: clinical.CategoryMeasurement},
		{Raw: "microgram", Fix: "mcg", Category: clinical.CategoryMeasurement},
		{Raw: "millilitres", Fix: "ml", Category: clinical.CategoryMeasurement},
		{Raw: "millimoles per litre", Fix: "mmol/L", Category: clinical.CategoryMeasurement},
		{Raw: "beats per minute", Fix: "bpm", Category: clinical.CategoryMeasurement},

		// Frequency shorthand dictated long-form.
		{Raw: "twice a day", Fix: "BD", Category: clinical.CategoryMedication},
		{Raw: "twice daily", Fix: "BD", Category: clinical.CategoryMedication},
		{Raw: "three times a day", Fix: "TDS", Category: clinical.CategoryMedication},
		{Raw: "four times a day", Fix: "QID", Category: clinical.CategoryMedication},
		{Raw: "as needed", Fix: "PRN", Category: clinical.CategoryMedication},
		{Raw: "at night", Fix: "nocte", Category: clinical.CategoryMedication},

		// Medication mishearings.
		{Raw: "metz", Fix: "mets", Category: clinical.CategoryAbbreviation},
		{Raw: "frusomide", Fix: "frusemide", Category: clinical.CategoryMedication},
		{Raw: "for seymour", Fix: "frusemide", Category: clinical.CategoryMedication},
		{Raw: "panadol osteo's", Fix: "Panadol Osteo", Category: clinical.CategoryMedication},

		// Procedure mishearings.
		{Raw: "echo cardiogram", Fix: "echocardiogram", Category: clinical.CategoryProcedure},
		{Raw: "angio gram", Fix: "angiogram", Category: clinical.CategoryProcedure},
		{Raw: "colonoscopy's", Fix: "colonoscopies", Category: clinical.CategoryProcedure},
	}

	// Australian spellings as spelling-category rules.
	for us, au := range clinical.AustralianSpellings() {
		rules = append(rules, Rule{
			Raw:      us,
			Fix:      au,
			Category: clinical.CategorySpelling,
		})
	}

	for i := range rules {
		rules[i].Provenance = ProvenanceStatic
	}
	return rules
}

// RuleFile is the top-level structure of a static-rule YAML overlay.
//
// Example:
//
//	rules:
//	  - raw: "pan adol"
//	    fix: "panadol"
//	    category: medication
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRuleFile reads and parses a static-rule YAML file from disk.
func LoadRuleFile(path string) (*RuleFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rules: open rule file %q: %w", path, err)
	}
	defer f.Close()

	rf, err := LoadRulesFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("rules: parse rule file %q: %w", path, err)
	}
	return rf, nil
}

// LoadRulesFromReader parses rule YAML from an [io.Reader]. Every rule in
// the file must validate; a malformed static rule is a startup failure, not
// a degradation.
func LoadRulesFromReader(r io.Reader) (*RuleFile, error) {
	var rf RuleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("rules: decode rule yaml: %w", err)
	}
	for i, rule := range rf.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rules: rule %d (%q): %w", i, rule.Raw, err)
		}
		rf.Rules[i].Provenance = ProvenanceStatic
	}
	return &rf, nil
}
