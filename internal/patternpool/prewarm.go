package patternpool

import (
	"fmt"

	"github.com/openclinika/medlex/pkg/clinical"
)

// warmPattern is one entry in the curated pre-warm set.
type warmPattern struct {
	source string
	flags  string
	domain clinical.Domain
}

// warmSets is the curated set of clinical patterns compiled eagerly at
// startup so the first dictation of the day does not pay compile cost.
// Sources here mirror the factor-extraction and correction patterns the
// rest of the engine requests at runtime.
var warmSets = map[clinical.Category][]warmPattern{
	clinical.CategoryMeasurement: {
		{source: `\b\d+(?:\.\d+)?\s*(?:mg|mcg|ml|mmol|units?|iu)\b`, flags: "i"},
		{source: `\b\d{2,3}\s*/\s*\d{2,3}\s*(?:mmhg)?\b`, flags: "i"},
		{source: `\b\d+(?:\.\d+)?\s*(?:bpm|l/min|mmol/l|kg)\b`, flags: "i"},
		{source: `\bgradient\s+(?:of\s+)?\d+`, flags: "i", domain: clinical.DomainCardiology},
	},
	clinical.CategoryMedication: {
		{source: `\b(?:\w+)\s+\d+(?:\.\d+)?\s*(?:mg|mcg|ml|units?)\s+(?:daily|bd|tds|qid|nocte|mane|prn)\b`, flags: "i"},
		{source: `\b(?:commenced?|ceased?|withh?eld|charted|titrated?)\s+(?:on\s+)?\w+`, flags: "i"},
	},
	clinical.CategoryProcedure: {
		{source: `\b(?:echo(?:cardiogram)?|angiogram|catheteri[sz]ation|stent(?:ing)?)\b`, flags: "i", domain: clinical.DomainCardiology},
		{source: `\b(?:endoscopy|colonoscopy|gastroscopy|ercp)\b`, flags: "i", domain: clinical.DomainGastroenterology},
		{source: `\b(?:spirometry|bronchoscopy|thoracocentesis)\b`, flags: "i", domain: clinical.DomainRespiratory},
		{source: `\b(?:x-?ray|ct\s+scan|mri|ultrasound|imaging)\b`, flags: "i"},
	},
	clinical.CategoryAnatomy: {
		{source: `\b(?:aortic|mitral|tricuspid|pulmonary)\s+valve\b`, flags: "i", domain: clinical.DomainCardiology},
		{source: `\b(?:spine|spinal|sacroiliac|vertebra[el]?|lumbar|thoracic|cervical)\b`, flags: "i", domain: clinical.DomainRheumatology},
		{source: `\b(?:lung|pleural?|bronch\w+|alveolar)\b`, flags: "i", domain: clinical.DomainRespiratory},
	},
	clinical.CategoryPathology: {
		{source: `\b(?:fbc|euc|lft|crp|tft|hba1c|abg|vbg)\b`, flags: "i"},
		{source: `\b(?:troponin|bnp|d-?dimer)\s*(?:of|was|is)?\s*\d*`, flags: "i", domain: clinical.DomainCardiology},
	},
	clinical.CategoryArtifact: {
		{source: `\b(?:um+|uh+|er+m*)\b[,.]?\s*`, flags: "i"},
		// Doubled function words from dictation stutter. RE2 has no
		// backreferences, so the repeats are enumerated.
		{source: `\b(?:the\s+the|and\s+and|a\s+a|an\s+an|of\s+of|to\s+to|in\s+in|on\s+on|is\s+is|was\s+was|with\s+with|for\s+for)\b`, flags: "i"},
	},
}

// PreWarm eagerly compiles the curated pattern set for category. Patterns
// that fail to compile within budget are skipped with the error recorded;
// the first such error is returned after the whole set has been attempted.
func (p *Pool) PreWarm(category clinical.Category) error {
	set, ok := warmSets[category]
	if !ok {
		return fmt.Errorf("patternpool: no pre-warm set for category %q", category)
	}

	var firstErr error
	for _, w := range set {
		if _, err := p.Compile(w.source, w.flags, category, w.domain); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PreWarmAll pre-warms every curated category set.
func (p *Pool) PreWarmAll() error {
	var firstErr error
	for _, c := range clinical.Categories {
		if _, ok := warmSets[c]; !ok {
			continue
		}
		if err := p.PreWarm(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
