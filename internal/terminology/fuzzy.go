package terminology

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Fuzzy surface-form fallback: when a dictated term matches no registered
// surface or alias exactly, the recogniser has usually mangled it ("ay ess",
// "are a"). Candidates are filtered by Double Metaphone code overlap and
// ranked by Jaro-Winkler similarity; a pure-similarity pass with a higher
// threshold catches terms the phonetic stage misses.

const (
	fuzzyPhoneticThreshold   = 0.70
	fuzzySimilarityThreshold = 0.85
)

// fuzzyResolve returns the registered surface term most similar to spoken,
// or ("", false) when nothing clears the thresholds.
func fuzzyResolve(spoken string, candidates []string) (string, bool) {
	spoken = strings.ToLower(strings.TrimSpace(spoken))
	if spoken == "" || len(candidates) == 0 {
		return "", false
	}

	spokenCodes := metaphoneCodes(strings.Fields(spoken))

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, cand := range candidates {
		candLower := strings.ToLower(strings.TrimSpace(cand))
		if candLower == "" {
			continue
		}

		phonetic := codesOverlap(spokenCodes, metaphoneCodes(strings.Fields(candLower)))
		score := matchr.JaroWinkler(spoken, candLower, false)

		switch {
		case phonetic && score >= fuzzyPhoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = cand, score, true
			}
		case !bestPhonetic && score >= fuzzySimilarityThreshold && score > bestScore:
			best, bestScore = cand, score
		}
	}

	if best == "" {
		return "", false
	}
	return best, true
}

// metaphoneCodes returns the union of Double Metaphone codes for tokens,
// excluding empty codes from very short words.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
