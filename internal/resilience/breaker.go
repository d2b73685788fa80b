// Package resilience provides the circuit breaker that guards the dynamic
// correction-rule source. The optimization service is the only external
// network dependency in the engine; when it misbehaves the breaker stops
// every caller from paying the fetch timeout and the rule store degrades to
// static-only correction until the service recovers.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the reset
// timeout has not yet elapsed.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed is the normal state: calls pass through.
	Closed State = iota

	// Open means the source is considered down; calls fail fast with [ErrOpen]
	// until the reset timeout elapses.
	Open

	// HalfOpen allows a single probe call after the reset timeout; its outcome
	// decides whether the breaker closes or re-opens.
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero fields take defaults.
type Config struct {
	// Name labels the breaker in logs (e.g. "rule-source").
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before allowing a
	// probe. Default: 30s.
	ResetTimeout time.Duration
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// New creates a Breaker from cfg, applying defaults for zero fields.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}
}

// Do runs fn if the breaker allows it. In the open state it returns [ErrOpen]
// without invoking fn. After the reset timeout one caller is admitted as a
// probe; concurrent callers during the probe fail fast.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = true
		slog.Info("circuit half-open, probing", "breaker", b.name)
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	probe := b.state == HalfOpen
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	if err != nil {
		b.failures++
		if probe || b.failures >= b.maxFailures {
			if b.state != Open {
				slog.Warn("circuit opened",
					"breaker", b.name,
					"consecutive_failures", b.failures,
				)
			}
			b.state = Open
			b.openedAt = b.now()
		}
		return err
	}

	if b.state != Closed {
		slog.Info("circuit closed", "breaker", b.name)
	}
	b.state = Closed
	b.failures = 0
	return nil
}

// State returns the breaker's current state. An open breaker whose reset
// timeout has elapsed reports [HalfOpen]; the transition itself happens on
// the next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
}
