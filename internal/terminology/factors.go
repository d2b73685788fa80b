package terminology

import (
	"log/slog"
	"strings"

	"github.com/openclinika/medlex/internal/patternpool"
	"github.com/openclinika/medlex/pkg/clinical"
)

// factorPattern describes one context clue the extractor looks for.
type factorPattern struct {
	ftype       clinical.FactorType
	source      string
	strength    float64
	supports    []clinical.Domain
	contradicts []clinical.Domain
}

// factorPatterns is the evidence table for factor extraction. Strengths are
// part of the scoring heuristic (see weights in disambiguator.go) and were
// hand-tuned against dictation samples, not derived from a corpus.
var factorPatterns = []factorPattern{
	// Anatomical.
	{
		ftype: clinical.FactorAnatomical, strength: 0.8,
		source:   `\b(?:aortic|mitral|tricuspid|pulmonary)\s+valve\b|\bvalve\b`,
		supports: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorAnatomical, strength: 0.7,
		source:      `\b(?:spine|spinal|back|sacroiliac|vertebra[el]?|lumbar|thoracic)\b`,
		supports:    []clinical.Domain{clinical.DomainRheumatology},
		contradicts: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorAnatomical, strength: 0.6,
		source:   `\b(?:joint|synovi\w+|tendon)\b`,
		supports: []clinical.Domain{clinical.DomainRheumatology},
	},
	{
		ftype: clinical.FactorAnatomical, strength: 0.6,
		source:   `\b(?:lung|pleura\w*|bronch\w+|airway)\b`,
		supports: []clinical.Domain{clinical.DomainRespiratory},
	},
	{
		ftype: clinical.FactorAnatomical, strength: 0.6,
		source:   `\b(?:bowel|abdomen|abdominal|colon|gastric|oesophag\w+)\b`,
		supports: []clinical.Domain{clinical.DomainGastroenterology},
	},

	// Procedural.
	{
		ftype: clinical.FactorProcedural, strength: 0.9,
		source:   `\becho(?:cardiogram)?\b|\bangiogram\b|\bcatheteri[sz]ation\b|\btavi\b`,
		supports: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorProcedural, strength: 0.7,
		source:   `\b(?:spirometry|bronchoscopy|ctpa)\b`,
		supports: []clinical.Domain{clinical.DomainRespiratory},
	},
	{
		ftype: clinical.FactorProcedural, strength: 0.7,
		source:   `\b(?:colonoscopy|gastroscopy|endoscopy|ercp)\b`,
		supports: []clinical.Domain{clinical.DomainGastroenterology},
	},
	{
		ftype: clinical.FactorProcedural, strength: 0.6,
		source:   `\b(?:dialysis|nephrectomy)\b`,
		supports: []clinical.Domain{clinical.DomainRenal},
	},

	// Measurement.
	{
		ftype: clinical.FactorMeasurement, strength: 0.8,
		source:   `\bgradient\b`,
		supports: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorMeasurement, strength: 0.6,
		source:   `\bejection\s+fraction\b|\bef\s+\d{2}\b`,
		supports: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorMeasurement, strength: 0.5,
		source:   `\b(?:egfr|creatinine)\b`,
		supports: []clinical.Domain{clinical.DomainRenal},
	},
	{
		ftype: clinical.FactorMeasurement, strength: 0.5,
		source:   `\b(?:hba1c|bsl|glucose)\b`,
		supports: []clinical.Domain{clinical.DomainEndocrinology},
	},

	// Medication.
	{
		ftype: clinical.FactorMedication, strength: 0.6,
		source:   `\b(?:frusemide|bisoprolol|statin\w*|gtn|clopidogrel|warfarin)\b`,
		supports: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorMedication, strength: 0.8,
		source:   `\b(?:methotrexate|sulfasalazine|adalimumab|prednisolone)\b`,
		supports: []clinical.Domain{clinical.DomainRheumatology},
	},
	{
		ftype: clinical.FactorMedication, strength: 0.6,
		source:   `\b(?:salbutamol|tiotropium|prednisone)\b`,
		supports: []clinical.Domain{clinical.DomainRespiratory},
	},
	{
		ftype: clinical.FactorMedication, strength: 0.6,
		source:   `\b(?:insulin|metformin|gliclazide)\b`,
		supports: []clinical.Domain{clinical.DomainEndocrinology},
	},

	// Diagnostic.
	{
		ftype: clinical.FactorDiagnostic, strength: 0.8,
		source:   `\b(?:murmur|troponin|stemi|nstemi|ischaemi\w+|ischemi\w+)\b`,
		supports: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorDiagnostic, strength: 0.6,
		source:      `\b(?:stiffness|arthritis|synovitis|hla-?b27)\b`,
		supports:    []clinical.Domain{clinical.DomainRheumatology},
		contradicts: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorDiagnostic, strength: 0.6,
		source:   `\b(?:wheeze|crackles|consolidation|dyspnoea)\b`,
		supports: []clinical.Domain{clinical.DomainRespiratory},
	},
	{
		ftype: clinical.FactorDiagnostic, strength: 0.6,
		source:   `\b(?:demyelinat\w+|lesion|seizure|weakness)\b`,
		supports: []clinical.Domain{clinical.DomainNeurology},
	},

	// Severity and temporal clues carry no domain signal of their own but
	// are surfaced in the factor list for reasoning and compliance checks.
	{
		ftype: clinical.FactorSeverity, strength: 0.4,
		source: `\b(?:mild|moderate|severe|critical)\b`,
	},
	{
		ftype: clinical.FactorTemporal, strength: 0.3,
		source: `\b(?:acute|chronic|progressive|sudden\s+onset|longstanding)\b`,
	},

	// Specialty mentions: the strongest clue for inferring a domain for
	// unknown terms.
	{
		ftype: clinical.FactorSpecialty, strength: 1.0,
		source:   `\bcardiolog\w+\b`,
		supports: []clinical.Domain{clinical.DomainCardiology},
	},
	{
		ftype: clinical.FactorSpecialty, strength: 1.0,
		source:   `\brheumatolog\w+\b`,
		supports: []clinical.Domain{clinical.DomainRheumatology},
	},
	{
		ftype: clinical.FactorSpecialty, strength: 1.0,
		source:   `\b(?:respiratory\s+team|pulmonolog\w+)\b`,
		supports: []clinical.Domain{clinical.DomainRespiratory},
	},
	{
		ftype: clinical.FactorSpecialty, strength: 1.0,
		source:   `\bneurolog\w+\b`,
		supports: []clinical.Domain{clinical.DomainNeurology},
	},
	{
		ftype: clinical.FactorSpecialty, strength: 1.0,
		source:   `\b(?:renal\s+team|nephrolog\w+)\b`,
		supports: []clinical.Domain{clinical.DomainRenal},
	},
	{
		ftype: clinical.FactorSpecialty, strength: 1.0,
		source:   `\b(?:gastroenterolog\w+|gastro\s+team)\b`,
		supports: []clinical.Domain{clinical.DomainGastroenterology},
	},
}

// extractFactors runs the evidence table over text using pool-compiled
// patterns. A pattern that fails to compile is skipped; extraction is
// best-effort and never fails.
func extractFactors(pool *patternpool.Pool, text string) []Factor {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Factor
	for _, fp := range factorPatterns {
		domain := clinical.Domain("")
		if len(fp.supports) == 1 {
			domain = fp.supports[0]
		}
		re, err := pool.Compile(fp.source, "i", clinical.CategoryContext, domain)
		if err != nil {
			slog.Debug("skipping uncompilable factor pattern",
				"type", fp.ftype,
				"error", err,
			)
			continue
		}
		match := re.FindString(text)
		if match == "" {
			continue
		}
		out = append(out, Factor{
			Span:        match,
			Type:        fp.ftype,
			Strength:    fp.strength,
			Supports:    fp.supports,
			Contradicts: fp.contradicts,
		})
	}
	return out
}

// strongestSpecialty returns the domain of the strongest specialty-bearing
// factor, used to give unknown terms a plausible domain. Falls back to
// fallback when no factor carries a domain.
func strongestSpecialty(factors []Factor, fallback clinical.Domain) clinical.Domain {
	best := fallback
	bestStrength := 0.0
	for _, f := range factors {
		if len(f.Supports) == 0 {
			continue
		}
		if f.Strength > bestStrength {
			best = f.Supports[0]
			bestStrength = f.Strength
		}
	}
	return best
}
