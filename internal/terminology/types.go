// Package terminology implements the clinical knowledge base and the
// context-aware disambiguator that resolves ambiguous abbreviations and
// terms ("AS", "MI", "PE"…) to the clinically correct meaning using the
// surrounding transcript text as evidence.
//
// Disambiguation is pure heuristic scoring over an explicitly registered
// term set: no trained models, no embeddings. Evidence comes from context
// factors (anatomical, procedural, measurement… clues extracted with
// pooled patterns), per-definition indicator tokens, domain frequency
// history, and caller preferences such as the primary specialty.
package terminology

import (
	"github.com/openclinika/medlex/pkg/clinical"
)

// Definition is one domain-specific meaning of an ambiguous surface term.
type Definition struct {
	// Term is the canonical expansion, e.g. "aortic stenosis".
	Term string `yaml:"term"`

	// Domain is the clinical specialty this meaning belongs to.
	Domain clinical.Domain `yaml:"domain"`

	// Meaning is the human-readable definition text.
	Meaning string `yaml:"meaning"`

	// Base is the prior confidence in [0,1] before any context evidence.
	Base float64 `yaml:"base"`

	// CommonUsage marks the meaning clinicians reach for by default.
	CommonUsage bool `yaml:"common_usage"`

	// AustralianPreferred marks a meaning whose surface form follows
	// Australian conventions.
	AustralianPreferred bool `yaml:"australian_preferred"`

	// AustralianForm, when set, replaces Term in results when the caller
	// requests Australian-preferred output.
	AustralianForm string `yaml:"australian_form"`

	// Indicators are context tokens whose presence supports this meaning.
	Indicators []string `yaml:"indicators"`

	// Exclusions are context tokens whose presence argues against this
	// meaning.
	Exclusions []string `yaml:"exclusions"`
}

// Factor is one piece of contextual evidence extracted from the text
// surrounding an ambiguous term. Factors are derived per call and never
// persisted.
type Factor struct {
	// Span is the matched text.
	Span string

	// Type classifies the clue.
	Type clinical.FactorType

	// Strength is the evidential weight in [0,1].
	Strength float64

	// Supports lists the domains this clue argues for.
	Supports []clinical.Domain

	// Contradicts lists the domains this clue argues against.
	Contradicts []clinical.Domain
}

// Options controls a disambiguation call.
type Options struct {
	// PrimaryDomain is the caller's specialty context; a matching candidate
	// receives a bonus and unknown terms default to this domain.
	PrimaryDomain clinical.Domain

	// PreferAustralian requests Australian-preferred surface forms and
	// applies the Australian bonus during scoring.
	PreferAustralian bool

	// ConfidenceThreshold is the minimum top score for a confident result.
	// Zero means the default (0.6).
	ConfidenceThreshold float64

	// MaxAlternatives caps the ranked alternative list. Zero means the
	// default (3).
	MaxAlternatives int

	// ContextWindow is the number of characters around the term considered
	// for factor extraction. Zero means the default (240).
	ContextWindow int
}

const (
	defaultConfidenceThreshold = 0.6
	defaultMaxAlternatives     = 3
	defaultContextWindow       = 240

	// minAlternativeConfidence filters the alternatives list.
	minAlternativeConfidence = 0.5

	// unknownTermConfidence is the confidence assigned when the term is not
	// in the knowledge base at all.
	unknownTermConfidence = 0.3

	// cacheContextSample is how many leading context characters key the
	// result cache.
	cacheContextSample = 120
)

// withDefaults fills zero option fields.
func (o Options) withDefaults() Options {
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if o.MaxAlternatives <= 0 {
		o.MaxAlternatives = defaultMaxAlternatives
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = defaultContextWindow
	}
	return o
}

// Alternative is one lower-ranked candidate meaning.
type Alternative struct {
	Term       string
	Domain     clinical.Domain
	Confidence float64
}

// Result is the outcome of a disambiguation call. "I don't know" is a valid
// outcome: unknown terms and below-threshold scores produce a low-confidence
// Result, never an error.
type Result struct {
	// OriginalTerm is the surface term as passed by the caller.
	OriginalTerm string

	// ResolvedTerm is the chosen expansion (possibly the Australian form).
	ResolvedTerm string

	// Confidence is the clamped final score in [0,1].
	Confidence float64

	// Domain is the specialty of the chosen meaning.
	Domain clinical.Domain

	// Definition is the human-readable meaning text.
	Definition string

	// Reasoning explains which evidence supported the choice.
	Reasoning string

	// Alternatives are lower-ranked candidates with confidence >= 0.5.
	Alternatives []Alternative

	// AustralianCompliant reports whether the resolved surface form follows
	// Australian conventions.
	AustralianCompliant bool

	// Factors is the contextual evidence used for scoring.
	Factors []Factor

	// LowConfidence marks a result whose top score fell below the threshold.
	LowConfidence bool

	// Unknown marks a term absent from the knowledge base.
	Unknown bool
}
