// Package engine wires the medlex subsystems into one explicitly
// constructed service object: the pattern pool, the correction rule store,
// the terminology knowledge base with its disambiguator, and the
// performance monitor. Nothing here is a global; the composition root
// builds one Engine and passes it to the HTTP surface.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openclinika/medlex/internal/config"
	"github.com/openclinika/medlex/internal/patternpool"
	"github.com/openclinika/medlex/internal/perfmon"
	"github.com/openclinika/medlex/internal/resilience"
	"github.com/openclinika/medlex/internal/rules"
	"github.com/openclinika/medlex/internal/terminology"
	"github.com/openclinika/medlex/pkg/clinical"
)

// Engine is the process-wide text normalisation and disambiguation service.
// Safe for concurrent use.
type Engine struct {
	pool  *patternpool.Pool
	store *rules.Store
	kb    *terminology.KnowledgeBase
	dis   *terminology.Disambiguator
	mon   *perfmon.Monitor

	mu       sync.RWMutex
	defaults terminology.Options
}

// Option is a functional option for [New]. Use these to inject test doubles.
type Option func(*injection)

// injection collects injectable pieces during construction.
type injection struct {
	source   rules.Source
	reporter perfmon.Reporter
}

// WithRuleSource injects a dynamic rule source instead of building one from
// the config registry.
func WithRuleSource(src rules.Source) Option {
	return func(c *injection) { c.source = src }
}

// WithMetricReporter mirrors performance metrics to the given reporter.
func WithMetricReporter(r perfmon.Reporter) Option {
	return func(c *injection) { c.reporter = r }
}

// New builds an Engine from the configuration. Construction is synchronous:
// static rules load, term files parse, and the pool pre-warms before New
// returns. A malformed rule or term file is a startup failure.
func New(ctx context.Context, cfg *config.Config, registry *config.Registry, opts ...Option) (*Engine, error) {
	var inj injection
	for _, o := range opts {
		o(&inj)
	}

	// Pattern pool.
	var poolOpts []patternpool.Option
	if cfg.PatternPool.MaxSize > 0 {
		poolOpts = append(poolOpts, patternpool.WithMaxSize(cfg.PatternPool.MaxSize))
	}
	if cfg.PatternPool.CompileTimeout > 0 {
		poolOpts = append(poolOpts, patternpool.WithCompileTimeout(cfg.PatternPool.CompileTimeout))
	}
	pool := patternpool.New(poolOpts...)
	if cfg.PatternPool.PreWarm {
		if err := pool.PreWarmAll(); err != nil {
			return nil, fmt.Errorf("engine: pre-warm pattern pool: %w", err)
		}
	}

	// Dynamic rule source.
	source := inj.source
	if source == nil && registry != nil {
		var err error
		source, err = registry.CreateSource(ctx, cfg.Rules)
		if err != nil {
			return nil, fmt.Errorf("engine: build rule source: %w", err)
		}
	}

	// Correction rule store.
	storeOpts := []rules.StoreOption{}
	if source != nil {
		storeOpts = append(storeOpts, rules.WithSource(source))
		if saver, ok := source.(rules.Saver); ok {
			storeOpts = append(storeOpts, rules.WithSaver(saver))
		}
	}
	if cfg.Rules.DynamicTTL > 0 {
		storeOpts = append(storeOpts, rules.WithDynamicTTL(cfg.Rules.DynamicTTL))
	}
	if cfg.Rules.FetchTimeout > 0 {
		storeOpts = append(storeOpts, rules.WithFetchTimeout(cfg.Rules.FetchTimeout))
	}
	if cfg.Rules.WaitTimeout > 0 {
		storeOpts = append(storeOpts, rules.WithWaitTimeout(cfg.Rules.WaitTimeout))
	}
	extra, err := loadStaticFiles(cfg.Rules.StaticFiles)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		storeOpts = append(storeOpts, rules.WithExtraStatic(extra))
	}
	store := rules.NewStore(pool, storeOpts...)

	// Knowledge base.
	kb := terminology.NewKnowledgeBase()
	if !cfg.Knowledge.DisableBuiltin {
		if err := terminology.LoadBuiltin(kb); err != nil {
			return nil, fmt.Errorf("engine: load builtin terms: %w", err)
		}
	}
	for _, path := range cfg.Knowledge.TermFiles {
		if err := terminology.LoadTermFile(kb, path); err != nil {
			return nil, fmt.Errorf("engine: load term file: %w", err)
		}
	}
	dis := terminology.NewDisambiguator(kb, pool)

	// Performance monitor.
	var monOpts []perfmon.Option
	if cfg.Perf.RingSize > 0 {
		monOpts = append(monOpts, perfmon.WithRingSize(cfg.Perf.RingSize))
	}
	if cfg.Perf.BaselineInterval > 0 {
		monOpts = append(monOpts, perfmon.WithBaselineInterval(cfg.Perf.BaselineInterval))
	}
	if inj.reporter != nil {
		monOpts = append(monOpts, perfmon.WithReporter(inj.reporter))
	}
	mon := perfmon.New(monOpts...)

	eng := &Engine{
		pool:     pool,
		store:    store,
		kb:       kb,
		dis:      dis,
		mon:      mon,
		defaults: defaultsFromConfig(cfg.Disambiguation),
	}

	slog.Info("engine initialised",
		"pool_max", pool.Stats().MaxSize,
		"known_terms", kb.Len(),
		"dynamic_source", cfg.Rules.Source,
	)
	return eng, nil
}

// Run starts the engine's background work (baseline recomputation) and
// blocks until ctx is cancelled.
func (eng *Engine) Run(ctx context.Context) {
	eng.mon.Run(ctx)
}

// SetDefaults replaces the caller-facing disambiguation defaults; used by
// the config hot-reload path.
func (eng *Engine) SetDefaults(cfg config.DisambiguationConfig) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	eng.defaults = defaultsFromConfig(cfg)
}

// ─────────────────────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────────────────────

// ApplyCorrections normalises text through the static and dynamic rule sets.
// Failures in the dynamic path degrade to static-only correction; the call
// never fails.
func (eng *Engine) ApplyCorrections(ctx context.Context, text string, categories ...clinical.Category) string {
	m := eng.mon.Start(perfmon.OpCorrection, callerFromContext(ctx)).InputLen(len(text))
	out := eng.store.Apply(ctx, text, categories...)
	m.End(len(out))
	return out
}

// ApplySafeCorrections validates each candidate rule independently and
// applies the valid ones, returning the applied/rejected partition.
func (eng *Engine) ApplySafeCorrections(ctx context.Context, candidates []rules.Rule) ([]rules.Rule, []rules.Rejection) {
	m := eng.mon.Start(perfmon.OpSafeCorrection, callerFromContext(ctx)).InputLen(len(candidates))
	applied, rejected := eng.store.ApplySafe(ctx, candidates)
	m.End(len(applied))
	return applied, rejected
}

// DisambiguateTerm resolves an ambiguous term using the surrounding context.
// opts fields left at their zero values fall back to the configured defaults.
func (eng *Engine) DisambiguateTerm(ctx context.Context, term, contextText string, opts terminology.Options) (terminology.Result, error) {
	merged := eng.mergeDefaults(opts)

	m := eng.mon.Start(perfmon.OpDisambiguation, callerFromContext(ctx)).InputLen(len(contextText))
	res, err := eng.dis.Disambiguate(term, contextText, merged)
	if err != nil {
		m.End(0)
		return terminology.Result{}, err
	}
	m.PatternMatches(len(res.Factors)).
		Confidence(res.Confidence).
		Compliant(res.AustralianCompliant).
		End(len(res.ResolvedTerm))
	return res, nil
}

// ExpandAcronym resolves an acronym, delegating to disambiguation when it
// has several registered expansions. A nil result means the acronym is not
// registered.
func (eng *Engine) ExpandAcronym(ctx context.Context, acronym, contextText string, domain clinical.Domain) (*terminology.Result, error) {
	if !domain.IsValid() {
		domain = eng.mergeDefaults(terminology.Options{}).PrimaryDomain
	}

	m := eng.mon.Start(perfmon.OpAcronym, callerFromContext(ctx)).InputLen(len(contextText))
	res, err := eng.dis.ExpandAcronym(acronym, contextText, domain)
	if err != nil {
		m.End(0)
		return nil, err
	}
	if res != nil {
		m.Confidence(res.Confidence).Compliant(res.AustralianCompliant)
		m.End(len(res.ResolvedTerm))
	} else {
		m.End(0)
	}
	return res, nil
}

// BatchDisambiguate resolves several terms against one shared context.
// Per-term failures are logged and excluded, never returned.
func (eng *Engine) BatchDisambiguate(ctx context.Context, terms []string, contextText string, opts terminology.Options) []terminology.Result {
	merged := eng.mergeDefaults(opts)

	m := eng.mon.Start(perfmon.OpBatch, callerFromContext(ctx)).InputLen(len(terms))
	results := eng.dis.Batch(terms, contextText, merged)
	m.End(len(results))
	return results
}

// GlossaryTerms returns up to max learned vocabulary terms in learned order,
// for seeding an external speech recogniser.
func (eng *Engine) GlossaryTerms(max int) []string {
	return eng.store.GlossaryTerms(max)
}

// ─────────────────────────────────────────────────────────────────────────────
// Diagnostics
// ─────────────────────────────────────────────────────────────────────────────

// PatternPoolStats returns a snapshot of the pattern pool.
func (eng *Engine) PatternPoolStats() patternpool.Stats {
	return eng.pool.Stats()
}

// DisambiguationStats returns a snapshot of disambiguation activity.
func (eng *Engine) DisambiguationStats() terminology.Stats {
	return eng.dis.Stats()
}

// RuleCounts returns rule-store population counts.
func (eng *Engine) RuleCounts() rules.Counts {
	return eng.store.Counts()
}

// SourceState reports the dynamic source circuit-breaker state.
func (eng *Engine) SourceState() resilience.State {
	return eng.store.SourceState()
}

// PerformanceReport builds the operator-facing performance summary for the
// last periodHours of activity.
func (eng *Engine) PerformanceReport(periodHours int) perfmon.Report {
	return eng.mon.Report(periodHours)
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

func defaultsFromConfig(cfg config.DisambiguationConfig) terminology.Options {
	return terminology.Options{
		PrimaryDomain:       clinical.Domain(cfg.PrimaryDomain),
		PreferAustralian:    cfg.PreferAustralian,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		MaxAlternatives:     cfg.MaxAlternatives,
	}
}

// mergeDefaults overlays per-call options on the configured defaults; zero
// fields inherit.
func (eng *Engine) mergeDefaults(opts terminology.Options) terminology.Options {
	eng.mu.RLock()
	def := eng.defaults
	eng.mu.RUnlock()

	if opts.PrimaryDomain == "" {
		opts.PrimaryDomain = def.PrimaryDomain
	}
	if !opts.PreferAustralian {
		opts.PreferAustralian = def.PreferAustralian
	}
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if opts.MaxAlternatives == 0 {
		opts.MaxAlternatives = def.MaxAlternatives
	}
	return opts
}

func loadStaticFiles(paths []string) ([]rules.Rule, error) {
	var out []rules.Rule
	for _, path := range paths {
		rf, err := rules.LoadRuleFile(path)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		out = append(out, rf.Rules...)
	}
	return out, nil
}

// callerKey identifies the caller string attached to a request context by
// the HTTP layer.
type callerKey struct{}

// WithCaller tags ctx with a caller label for performance attribution.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func callerFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey{}).(string); ok {
		return c
	}
	return "unknown"
}
