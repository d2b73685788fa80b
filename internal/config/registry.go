package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openclinika/medlex/internal/rules"
)

// ErrSourceNotRegistered is returned by [Registry.CreateSource] when no
// factory has been registered under the requested source kind.
var ErrSourceNotRegistered = errors.New("config: rule source not registered")

// SourceFactory builds a dynamic rule source from the rules configuration.
type SourceFactory func(ctx context.Context, cfg RulesConfig) (rules.Source, error)

// Registry maps rule-source kinds to their constructor functions. It is safe
// for concurrent use. The composition root consults it once at startup; the
// indirection exists so tests and embedders can install fakes or additional
// source kinds without touching the wiring code.
type Registry struct {
	mu      sync.RWMutex
	sources map[RuleSourceKind]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{sources: make(map[RuleSourceKind]SourceFactory)}
}

// RegisterSource installs a factory for the given kind, replacing any
// previous registration.
func (r *Registry) RegisterSource(kind RuleSourceKind, fn SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = fn
}

// CreateSource builds the dynamic rule source selected by cfg.Source.
// Kind "none" (or empty) returns (nil, nil): the store runs static-only.
func (r *Registry) CreateSource(ctx context.Context, cfg RulesConfig) (rules.Source, error) {
	kind := cfg.Source
	if kind == "" || kind == RuleSourceNone {
		return nil, nil
	}

	r.mu.RLock()
	fn, ok := r.sources[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotRegistered, kind)
	}
	return fn(ctx, cfg)
}

// DefaultRegistry returns a registry with the built-in source kinds
// registered: http (optimisation service) and postgres.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterSource(RuleSourceHTTP, func(_ context.Context, cfg RulesConfig) (rules.Source, error) {
		return rules.NewHTTPSource(cfg.URL, nil), nil
	})

	r.RegisterSource(RuleSourcePostgres, func(ctx context.Context, cfg RulesConfig) (rules.Source, error) {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("config: connect postgres rule source: %w", err)
		}
		src := rules.NewPostgresSource(pool)
		if err := src.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("config: migrate rule schema: %w", err)
		}
		return src, nil
	})

	return r
}
