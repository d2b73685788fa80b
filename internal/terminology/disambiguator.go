package terminology

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/openclinika/medlex/internal/expiry"
	"github.com/openclinika/medlex/internal/patternpool"
	"github.com/openclinika/medlex/pkg/clinical"
)

// weights are the scoring constants. Hand-tuned starting heuristic, kept in
// one place so they can be retuned against a labelled corpus later.
type weights struct {
	Support       float64 // per supporting context factor, × strength
	Contradict    float64 // per contradicting context factor, × strength
	PrimaryDomain float64 // candidate matches the caller's specialty
	Australian    float64 // Australian-preferred definition when requested
	CommonUsage   float64 // the meaning clinicians default to
	Frequency     float64 // × the candidate domain's share of past usage
	Indicator     float64 // per indicator token found in context
}

var defaultWeights = weights{
	Support:       0.30,
	Contradict:    0.20,
	PrimaryDomain: 0.15,
	Australian:    0.10,
	CommonUsage:   0.05,
	Frequency:     0.10,
	Indicator:     0.15,
}

// maxIndicatorHits caps how many indicator/exclusion tokens count per
// definition so long contexts cannot saturate the score.
const maxIndicatorHits = 3

const defaultCacheTTL = 10 * time.Minute

// DisambiguatorOption is a functional option for [NewDisambiguator].
type DisambiguatorOption func(*Disambiguator)

// WithCacheTTL overrides the result cache TTL. Default: 10 minutes.
func WithCacheTTL(ttl time.Duration) DisambiguatorOption {
	return func(d *Disambiguator) {
		if ttl > 0 {
			d.cache = expiry.New[string, Result](ttl, 4096)
		}
	}
}

// WithBatchConcurrency bounds concurrent term evaluation in
// [Disambiguator.Batch]. Default: 4.
func WithBatchConcurrency(n int) DisambiguatorOption {
	return func(d *Disambiguator) {
		if n > 0 {
			d.batchLimit = n
		}
	}
}

// Disambiguator scores competing meanings of an ambiguous term against the
// knowledge base and the surrounding text. Pure CPU work; safe for
// concurrent use.
type Disambiguator struct {
	kb    *KnowledgeBase
	pool  *patternpool.Pool
	cache *expiry.Cache[string, Result]
	w     weights

	batchLimit int

	statsMu       sync.Mutex
	calls         int64
	cacheHits     int64
	unknown       int64
	lowConfidence int64
	sumConfidence float64
}

// NewDisambiguator creates a Disambiguator over kb, compiling its factor
// patterns through pool.
func NewDisambiguator(kb *KnowledgeBase, pool *patternpool.Pool, opts ...DisambiguatorOption) *Disambiguator {
	d := &Disambiguator{
		kb:         kb,
		pool:       pool,
		cache:      expiry.New[string, Result](defaultCacheTTL, 4096),
		w:          defaultWeights,
		batchLimit: 4,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Disambiguate resolves term against the knowledge base using contextText
// as evidence. It never fails for unknown or ambiguous input: unknown terms
// and below-threshold scores come back as low-confidence results. The only
// error is an empty term.
func (d *Disambiguator) Disambiguate(term, contextText string, opts Options) (Result, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return Result{}, errors.New("terminology: empty term")
	}
	opts = opts.withDefaults()

	key := cacheKey(term, contextText, opts)
	if cached, ok := d.cache.Get(key); ok {
		d.recordCall(cached, true)
		return cached, nil
	}

	window := contextWindow(contextText, opts.ContextWindow)
	factors := extractFactors(d.pool, window)

	res := d.resolve(term, window, factors, opts)
	d.cache.Set(key, res)
	d.recordCall(res, false)
	return res, nil
}

// ExpandAcronym resolves an acronym to its expansion. A single registered
// expansion is returned directly with its base confidence; multiple
// expansions delegate to [Disambiguate]. Unregistered acronyms return
// (nil, nil): not knowing an acronym is an expected outcome.
func (d *Disambiguator) ExpandAcronym(acronym, contextText string, primary clinical.Domain) (*Result, error) {
	acronym = strings.TrimSpace(acronym)
	if acronym == "" {
		return nil, errors.New("terminology: empty acronym")
	}

	defs, ok := d.kb.Lookup(acronym)
	if !ok {
		return nil, nil
	}

	if len(defs) == 1 {
		def := defs[0]
		res := Result{
			OriginalTerm:        acronym,
			ResolvedTerm:        def.Term,
			Confidence:          clamp01(def.Base),
			Domain:              def.Domain,
			Definition:          def.Meaning,
			Reasoning:           fmt.Sprintf("%q has a single registered expansion", acronym),
			AustralianCompliant: def.AustralianPreferred,
		}
		d.kb.RecordUsage(acronym, def.Domain)
		d.recordCall(res, false)
		return &res, nil
	}

	res, err := d.Disambiguate(acronym, contextText, Options{PrimaryDomain: primary})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Batch disambiguates several terms against one shared context, extracting
// context factors once. Evaluation is concurrent and best-effort: a failure
// for one term is logged and excluded from the result list.
func (d *Disambiguator) Batch(terms []string, contextText string, opts Options) []Result {
	opts = opts.withDefaults()
	window := contextWindow(contextText, opts.ContextWindow)
	factors := extractFactors(d.pool, window)

	results := make([]*Result, len(terms))
	var g errgroup.Group
	g.SetLimit(d.batchLimit)

	for i, term := range terms {
		g.Go(func() error {
			t := strings.TrimSpace(term)
			if t == "" {
				slog.Warn("skipping empty term in disambiguation batch", "index", i)
				return nil
			}
			res := d.resolve(t, window, factors, opts)
			d.recordCall(res, false)
			results[i] = &res
			return nil
		})
	}
	// Workers only report via the results slice; Wait cannot fail.
	_ = g.Wait()

	out := make([]Result, 0, len(terms))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Stats is a snapshot of disambiguation activity.
type Stats struct {
	Calls          int64
	CacheHits      int64
	CacheHitRate   float64
	Unknown        int64
	LowConfidence  int64
	MeanConfidence float64
	KnownTerms     int
}

// Stats returns a snapshot of call counts, cache behaviour, and confidence.
func (d *Disambiguator) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	s := Stats{
		Calls:         d.calls,
		CacheHits:     d.cacheHits,
		Unknown:       d.unknown,
		LowConfidence: d.lowConfidence,
		KnownTerms:    d.kb.Len(),
	}
	if d.calls > 0 {
		s.CacheHitRate = float64(d.cacheHits) / float64(d.calls)
		s.MeanConfidence = d.sumConfidence / float64(d.calls)
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Scoring
// ─────────────────────────────────────────────────────────────────────────────

// scored pairs a candidate definition with its computed score and reasons.
type scored struct {
	def     Definition
	score   float64
	reasons []string
}

// resolve is the scoring core shared by Disambiguate and Batch. factors
// must already be extracted from window.
func (d *Disambiguator) resolve(term, window string, factors []Factor, opts Options) Result {
	defs, ok := d.kb.Lookup(term)
	matchedSurface := term
	if !ok {
		// Alias miss: try the fuzzy surface-form fallback before giving up.
		if resolved, fuzzyOK := fuzzyResolve(term, d.kb.Terms()); fuzzyOK {
			defs, ok = d.kb.Lookup(resolved)
			matchedSurface = resolved
		}
	}
	if !ok {
		return d.unknownResult(term, factors, opts)
	}

	lowerWindow := strings.ToLower(window)
	candidates := make([]scored, 0, len(defs))
	for _, def := range defs {
		score, reasons := d.score(def, factors, lowerWindow, matchedSurface, opts)
		candidates = append(candidates, scored{def: def, score: score, reasons: reasons})
	}

	// Stable sort: ties keep registration order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	top := candidates[0]
	resolved := top.def.Term
	auCompliant := top.def.AustralianPreferred
	if opts.PreferAustralian {
		resolved = australianise(top.def)
		auCompliant = true
	}

	res := Result{
		OriginalTerm:        term,
		ResolvedTerm:        resolved,
		Confidence:          top.score,
		Domain:              top.def.Domain,
		Definition:          top.def.Meaning,
		Reasoning:           buildReasoning(term, top),
		Alternatives:        alternatives(candidates[1:], opts.MaxAlternatives),
		AustralianCompliant: auCompliant,
		Factors:             factors,
	}

	if top.score < opts.ConfidenceThreshold {
		res.LowConfidence = true
		res.Reasoning = fmt.Sprintf(
			"best guess below confidence threshold %.2f: %s",
			opts.ConfidenceThreshold, res.Reasoning)
		return res
	}

	d.kb.RecordUsage(matchedSurface, top.def.Domain)
	return res
}

// score computes one candidate's confidence and the reasons behind it.
func (d *Disambiguator) score(def Definition, factors []Factor, lowerWindow, surface string, opts Options) (float64, []string) {
	score := def.Base
	var reasons []string

	if opts.PrimaryDomain.IsValid() && opts.PrimaryDomain == def.Domain {
		score += d.w.PrimaryDomain
		reasons = append(reasons, fmt.Sprintf("matches primary domain %s", def.Domain))
	}

	for _, f := range factors {
		if domainIn(def.Domain, f.Supports) {
			score += f.Strength * d.w.Support
			reasons = append(reasons, fmt.Sprintf("supported by %s factor %q", f.Type, f.Span))
		}
		if domainIn(def.Domain, f.Contradicts) {
			score -= f.Strength * d.w.Contradict
			reasons = append(reasons, fmt.Sprintf("contradicted by %s factor %q", f.Type, f.Span))
		}
	}

	hits := 0
	for _, ind := range def.Indicators {
		if hits >= maxIndicatorHits {
			break
		}
		if strings.Contains(lowerWindow, strings.ToLower(ind)) {
			score += d.w.Indicator
			reasons = append(reasons, fmt.Sprintf("indicator %q present", ind))
			hits++
		}
	}
	misses := 0
	for _, exc := range def.Exclusions {
		if misses >= maxIndicatorHits {
			break
		}
		if strings.Contains(lowerWindow, strings.ToLower(exc)) {
			score -= d.w.Indicator
			reasons = append(reasons, fmt.Sprintf("exclusion %q present", exc))
			misses++
		}
	}

	if opts.PreferAustralian && def.AustralianPreferred {
		score += d.w.Australian
	}
	if def.CommonUsage {
		score += d.w.CommonUsage
		reasons = append(reasons, "common usage")
	}
	if ratio := d.kb.FrequencyRatio(surface, def.Domain); ratio > 0 {
		score += ratio * d.w.Frequency
	}

	return clamp01(score), reasons
}

// unknownResult builds the low-confidence answer for a term the knowledge
// base has never seen, inferring a domain from the strongest specialty
// evidence in the context.
func (d *Disambiguator) unknownResult(term string, factors []Factor, opts Options) Result {
	fallback := opts.PrimaryDomain
	if !fallback.IsValid() {
		fallback = clinical.DomainGeneral
	}
	domain := strongestSpecialty(factors, fallback)

	return Result{
		OriginalTerm:  term,
		ResolvedTerm:  term,
		Confidence:    unknownTermConfidence,
		Domain:        domain,
		Reasoning:     fmt.Sprintf("%q is not in the terminology knowledge base; domain inferred from context", term),
		Factors:       factors,
		LowConfidence: true,
		Unknown:       true,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (d *Disambiguator) recordCall(res Result, cacheHit bool) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.calls++
	if cacheHit {
		d.cacheHits++
	}
	if res.Unknown {
		d.unknown++
	}
	if res.LowConfidence {
		d.lowConfidence++
	}
	d.sumConfidence += res.Confidence
}

// alternatives converts the remaining candidates into the bounded
// alternative list, keeping only plausible ones.
func alternatives(rest []scored, max int) []Alternative {
	var out []Alternative
	for _, c := range rest {
		if len(out) >= max {
			break
		}
		if c.score < minAlternativeConfidence {
			continue
		}
		out = append(out, Alternative{
			Term:       c.def.Term,
			Domain:     c.def.Domain,
			Confidence: c.score,
		})
	}
	return out
}

// buildReasoning assembles the human-readable explanation for the winner.
func buildReasoning(term string, top scored) string {
	head := fmt.Sprintf("resolved %q to %q (%s)", term, top.def.Term, top.def.Domain)
	if len(top.reasons) == 0 {
		return head + " on base confidence alone"
	}
	return head + ": " + strings.Join(top.reasons, "; ")
}

// australianise returns the definition's Australian surface form: the
// explicit AustralianForm when set, otherwise the term with each word run
// through the spelling table.
func australianise(def Definition) string {
	if def.AustralianForm != "" {
		return def.AustralianForm
	}
	words := strings.Fields(def.Term)
	for i, w := range words {
		if au, ok := clinical.AustralianSpelling(w); ok {
			words[i] = au
		}
	}
	return strings.Join(words, " ")
}

// contextWindow clamps text to at most n bytes, backing off to the nearest
// rune boundary so multi-byte clinical glyphs ("µg", "°C") are never split.
func contextWindow(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

// cacheKey builds the result-cache key from the term, a bounded context
// sample, and the option fingerprint.
func cacheKey(term, contextText string, opts Options) string {
	sample := contextWindow(contextText, cacheContextSample)
	return fmt.Sprintf("%s|%s|%s|%t|%.2f|%d|%d",
		strings.ToLower(term), sample, opts.PrimaryDomain,
		opts.PreferAustralian, opts.ConfidenceThreshold,
		opts.MaxAlternatives, opts.ContextWindow)
}

func domainIn(d clinical.Domain, set []clinical.Domain) bool {
	for _, x := range set {
		if x == d {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
