// Package rules implements the correction-rule store: durable static rules
// compiled once at startup, runtime-learned rules appended through a
// validated safe-apply path, and dynamic rules fetched from the remote
// optimization service with a TTL, single-flight de-duplication, and a
// circuit breaker. Any dynamic failure degrades to static-only correction;
// text processing never fails because the optimization service is down.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openclinika/medlex/pkg/clinical"
)

// ErrRuleInvalid is the sentinel wrapped by every per-rule validation
// failure. Rejections are never fatal: [Store.ApplySafe] reports them
// per rule and continues with the valid remainder.
var ErrRuleInvalid = errors.New("rules: invalid rule")

// Provenance records where a correction rule came from.
type Provenance string

const (
	// ProvenanceStatic rules ship with the engine and are immutable for the
	// process lifetime.
	ProvenanceStatic Provenance = "static"

	// ProvenanceDynamic rules come from the optimization service and live
	// only as long as the fetch TTL.
	ProvenanceDynamic Provenance = "dynamic"

	// ProvenanceLearned rules were accepted through the safe-apply path at
	// runtime.
	ProvenanceLearned Provenance = "learned"
)

// IsValid reports whether p is a recognised provenance.
func (p Provenance) IsValid() bool {
	switch p {
	case ProvenanceStatic, ProvenanceDynamic, ProvenanceLearned:
		return true
	}
	return false
}

// Rule is one text correction: occurrences of Raw (whole-word,
// case-insensitive) become Fix.
type Rule struct {
	// Raw is the misrecognised surface text to replace.
	Raw string `yaml:"raw"`

	// Fix is the replacement text.
	Fix string `yaml:"fix"`

	// Category classifies the rule for selective application. Empty means
	// [clinical.CategorySpelling].
	Category clinical.Category `yaml:"category"`

	// Provenance records the rule's origin. Defaults to dynamic for rules
	// arriving from outside the process.
	Provenance Provenance `yaml:"-"`
}

// category returns the rule's effective category.
func (r Rule) category() clinical.Category {
	if r.Category == "" {
		return clinical.CategorySpelling
	}
	return r.Category
}

// maxRuleTextLen bounds both sides of a rule. Dictated corrections are short
// phrases; anything longer is almost certainly a corrupt payload.
const maxRuleTextLen = 120

// dangerousFragments are substrings that indicate the raw text is trying to
// smuggle regex constructs (the engine quotes raw text before compiling, but
// a payload full of these is malformed input, not a correction).
var dangerousFragments = []string{
	"(?", "\\k<", "*+", "++", "?+", "{,", ".*.*", "\\x",
}

// Validate checks a single candidate rule against the static constraints:
// non-empty, non-identical, bounded length, no dangerous constructs, no
// protected-term corruption. Cycle detection against the live rule set
// happens in [Store.ApplySafe], which sees the full set.
func (r Rule) Validate() error {
	raw := strings.TrimSpace(r.Raw)
	fix := strings.TrimSpace(r.Fix)

	if raw == "" {
		return fmt.Errorf("%w: empty raw text", ErrRuleInvalid)
	}
	if fix == "" {
		return fmt.Errorf("%w: empty fix text", ErrRuleInvalid)
	}
	if len(raw) > maxRuleTextLen || len(fix) > maxRuleTextLen {
		return fmt.Errorf("%w: rule text exceeds %d characters", ErrRuleInvalid, maxRuleTextLen)
	}
	if strings.EqualFold(raw, fix) {
		return fmt.Errorf("%w: raw and fix are identical", ErrRuleInvalid)
	}
	for _, frag := range dangerousFragments {
		if strings.Contains(raw, frag) || strings.Contains(fix, frag) {
			return fmt.Errorf("%w: dangerous construct %q", ErrRuleInvalid, frag)
		}
	}
	if r.Category != "" && !r.Category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", ErrRuleInvalid, r.Category)
	}
	if clinical.IsProtectedTerm(raw) && !clinical.IsProtectedTerm(fix) {
		return fmt.Errorf("%w: raw %q is a protected clinical term", ErrRuleInvalid, raw)
	}
	return nil
}

// conflictsWith reports whether candidate forms a two-rule cycle with
// existing (candidate raw→fix while existing fix→raw, case-insensitive).
func (r Rule) conflictsWith(existing Rule) bool {
	return strings.EqualFold(r.Raw, existing.Fix) &&
		strings.EqualFold(r.Fix, existing.Raw)
}

// Rejection pairs a rejected candidate rule with the human-readable reason.
type Rejection struct {
	Rule   Rule
	Reason string
}
