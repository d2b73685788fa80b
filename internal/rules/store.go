package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openclinika/medlex/internal/expiry"
	"github.com/openclinika/medlex/internal/patternpool"
	"github.com/openclinika/medlex/internal/resilience"
	"github.com/openclinika/medlex/pkg/clinical"
)

const (
	defaultDynamicTTL   = 5 * time.Minute
	defaultFetchTimeout = 3 * time.Second
	defaultWaitTimeout  = 2 * time.Second

	// dynKey is the single cache/singleflight key for the dynamic rule set.
	dynKey = "dynamic"
)

// StoreOption is a functional option for configuring a [Store].
type StoreOption func(*Store)

// WithSource attaches a dynamic rule source. Without one the store is
// static-only.
func WithSource(src Source) StoreOption {
	return func(s *Store) { s.source = src }
}

// WithSaver attaches persistence for rules accepted via [Store.ApplySafe].
func WithSaver(sv Saver) StoreOption {
	return func(s *Store) { s.saver = sv }
}

// WithExtraStatic appends pre-validated static rules (e.g. from a YAML
// overlay) after the built-in set.
func WithExtraStatic(rules []Rule) StoreOption {
	return func(s *Store) { s.static = append(s.static, rules...) }
}

// WithDynamicTTL overrides how long a fetched dynamic rule set is reused.
// Default: 5 minutes.
func WithDynamicTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.dynCache = expiry.New[string, RuleSet](ttl, 1)
		}
	}
}

// WithFetchTimeout bounds a single dynamic fetch. Default: 3s.
func WithFetchTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithWaitTimeout bounds how long a correction call waits for an in-flight
// dynamic fetch before proceeding without dynamic rules. Default: 2s.
func WithWaitTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.waitTimeout = d
		}
	}
}

// Store merges static, learned, and dynamic correction rules and applies
// them to transcribed text. Safe for concurrent use.
type Store struct {
	pool   *patternpool.Pool
	source Source
	saver  Saver

	static []Rule

	breaker  *resilience.Breaker
	dynCache *expiry.Cache[string, RuleSet]
	group    singleflight.Group

	fetchTimeout time.Duration
	waitTimeout  time.Duration

	mu          sync.RWMutex
	learned     []Rule
	glossary    []string
	glossarySet map[string]struct{}
}

// NewStore creates a Store that compiles its patterns through pool. The
// built-in static set is always present; options add a dynamic source,
// persistence, and tuning.
func NewStore(pool *patternpool.Pool, opts ...StoreOption) *Store {
	s := &Store{
		pool:         pool,
		static:       builtinStatic(),
		dynCache:     expiry.New[string, RuleSet](defaultDynamicTTL, 1),
		fetchTimeout: defaultFetchTimeout,
		waitTimeout:  defaultWaitTimeout,
		glossarySet:  make(map[string]struct{}),
		breaker: resilience.New(resilience.Config{
			Name: "rule-source",
		}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply corrects text using static rules first, then whatever dynamic and
// learned rules are currently available. categories filters which rules run;
// empty means all. Apply never fails: any dynamic-source problem degrades to
// static-only output.
func (s *Store) Apply(ctx context.Context, text string, categories ...clinical.Category) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	out := s.applyRules(text, s.static, categories)

	dyn := s.dynamicSet(ctx)
	if len(dyn.Rules) > 0 {
		out = s.applyRules(out, dyn.Rules, categories)
	}

	s.mu.RLock()
	learned := s.learned
	s.mu.RUnlock()
	if len(learned) > 0 {
		out = s.applyRules(out, learned, categories)
	}

	return out
}

// ApplySafe validates each candidate rule independently and installs the
// valid ones as learned rules. Invalid candidates are reported with a
// reason; a single bad rule never blocks the rest of the batch.
func (s *Store) ApplySafe(ctx context.Context, candidates []Rule) (applied []Rule, rejected []Rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candidates {
		if err := c.Validate(); err != nil {
			rejected = append(rejected, Rejection{Rule: c, Reason: err.Error()})
			continue
		}
		if reason := s.conflictReasonLocked(c, applied); reason != "" {
			rejected = append(rejected, Rejection{Rule: c, Reason: reason})
			continue
		}
		c.Provenance = ProvenanceLearned
		applied = append(applied, c)
	}

	s.learned = append(s.learned, applied...)
	for _, r := range applied {
		s.recordGlossaryLocked(r.Fix)
	}

	if s.saver != nil && len(applied) > 0 {
		if err := s.saver.Save(ctx, applied); err != nil {
			slog.Warn("failed to persist learned rules",
				"count", len(applied),
				"error", err,
			)
		}
	}

	return applied, rejected
}

// GlossaryTerms returns up to max learned vocabulary terms in first-seen
// order, for seeding the upstream recogniser's initial prompt. max <= 0
// returns all terms.
func (s *Store) GlossaryTerms(max int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.glossary)
	if max > 0 && max < n {
		n = max
	}
	out := make([]string, n)
	copy(out, s.glossary[:n])
	return out
}

// Counts reports the current rule population for diagnostics.
type Counts struct {
	Static        int
	Learned       int
	DynamicCached int
	SourceState   string
}

// Counts returns a snapshot of rule counts and the dynamic-source breaker
// state.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	learned := len(s.learned)
	s.mu.RUnlock()

	dynamic := 0
	if set, ok := s.dynCache.Get(dynKey); ok {
		dynamic = len(set.Rules)
	}

	return Counts{
		Static:        len(s.static),
		Learned:       learned,
		DynamicCached: dynamic,
		SourceState:   s.breaker.State().String(),
	}
}

// SourceState exposes the dynamic-source breaker state for health checks.
func (s *Store) SourceState() resilience.State {
	return s.breaker.State()
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

// applyRules runs each rule matching the category filter over text.
// Patterns are whole-word and case-insensitive, compiled through the shared
// pool; a rule whose pattern cannot be compiled is skipped.
func (s *Store) applyRules(text string, ruleSet []Rule, categories []clinical.Category) string {
	out := text
	for _, r := range ruleSet {
		if !categoryAllowed(r.category(), categories) {
			continue
		}
		re, err := s.pool.Compile(rulePattern(r.Raw), "i", r.category(), "")
		if err != nil {
			slog.Debug("skipping uncompilable correction rule",
				"raw", r.Raw,
				"error", err,
			)
			continue
		}
		out = re.ReplaceAllLiteralString(out, r.Fix)
	}
	return out
}

// dynamicSet returns the current dynamic rule set, fetching it through the
// single-flight group when the cache is cold. Concurrent callers share one
// fetch; waiters are bounded by the wait timeout and fall back to an empty
// set. Never returns an error.
func (s *Store) dynamicSet(ctx context.Context) RuleSet {
	if s.source == nil {
		return RuleSet{}
	}
	if set, ok := s.dynCache.Get(dynKey); ok {
		return set
	}

	ch := s.group.DoChan(dynKey, func() (any, error) {
		// Detached context: the shared fetch must not die with the first
		// caller that gives up waiting.
		fctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
		defer cancel()

		var set RuleSet
		err := s.breaker.Do(fctx, func(bctx context.Context) error {
			var ferr error
			set, ferr = s.source.Fetch(bctx)
			return ferr
		})
		if err != nil {
			return RuleSet{}, err
		}
		set = validateDynamic(set)

		s.dynCache.Set(dynKey, set)
		s.mu.Lock()
		for _, term := range set.GlossaryTerms {
			s.recordGlossaryLocked(term)
		}
		s.mu.Unlock()
		return set, nil
	})

	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			slog.Warn("dynamic rule fetch failed, degrading to static-only",
				"error", res.Err,
			)
			return RuleSet{}
		}
		return res.Val.(RuleSet)
	case <-timer.C:
		slog.Warn("timed out waiting for dynamic rule fetch, degrading to static-only")
		return RuleSet{}
	case <-ctx.Done():
		return RuleSet{}
	}
}

// validateDynamic drops fetched rules that fail per-rule validation. The
// optimization service is external input; a corrupt payload must clear the
// same checks the safe-apply path enforces before it can rewrite text.
func validateDynamic(set RuleSet) RuleSet {
	valid := make([]Rule, 0, len(set.Rules))
	for _, r := range set.Rules {
		if err := r.Validate(); err != nil {
			slog.Warn("dropping invalid dynamic rule",
				"raw", r.Raw,
				"error", err,
			)
			continue
		}
		valid = append(valid, r)
	}
	set.Rules = valid
	return set
}

// conflictReasonLocked checks c against the static set, the learned set, and
// the rules already accepted in this batch. Returns "" when no conflict.
// Caller holds the write lock.
func (s *Store) conflictReasonLocked(c Rule, batch []Rule) string {
	for _, existing := range s.learned {
		if strings.EqualFold(c.Raw, existing.Raw) && strings.EqualFold(c.Fix, existing.Fix) {
			return "duplicate of existing learned rule"
		}
	}
	groups := [][]Rule{s.static, s.learned, batch}
	for _, g := range groups {
		for _, existing := range g {
			if c.conflictsWith(existing) {
				return fmt.Sprintf("creates a cycle with existing rule %q -> %q",
					existing.Raw, existing.Fix)
			}
		}
	}
	return ""
}

// recordGlossaryLocked appends term to the glossary preserving first-seen
// order. Caller holds the write lock.
func (s *Store) recordGlossaryLocked(term string) {
	term = strings.TrimSpace(term)
	if term == "" {
		return
	}
	key := strings.ToLower(term)
	if _, seen := s.glossarySet[key]; seen {
		return
	}
	s.glossarySet[key] = struct{}{}
	s.glossary = append(s.glossary, term)
}

// categoryAllowed reports whether cat passes the filter. An empty filter
// allows everything.
func categoryAllowed(cat clinical.Category, filter []clinical.Category) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == cat {
			return true
		}
	}
	return false
}

// rulePattern builds the whole-word pattern source for raw text. The text is
// quoted so rule payloads can never inject regex syntax.
func rulePattern(raw string) string {
	return `\b` + regexp.QuoteMeta(strings.TrimSpace(raw)) + `\b`
}
