package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errSource = errors.New("source down")

func failing(context.Context) error    { return errSource }
func succeeding(context.Context) error { return nil }

func TestDefaults(t *testing.T) {
	t.Parallel()

	b := New(Config{Name: "test"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.State() != Closed {
		t.Errorf("State = %v, want closed", b.State())
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := New(Config{Name: "test", MaxFailures: 3})

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, failing); !errors.Is(err, errSource) {
			t.Fatalf("Do %d: expected source error, got %v", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("State = %v, want open after 3 failures", b.State())
	}
	if err := b.Do(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("Do while open: expected ErrOpen, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := New(Config{Name: "test", MaxFailures: 2})

	b.Do(ctx, failing)
	b.Do(ctx, succeeding)
	b.Do(ctx, failing)

	if b.State() != Closed {
		t.Fatalf("State = %v, want closed (failures interleaved with success)", b.State())
	}
}

func TestHalfOpenProbe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := New(Config{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Second})

	cur := time.Unix(5000, 0)
	b.now = func() time.Time { return cur }

	b.Do(ctx, failing)
	if b.State() != Open {
		t.Fatalf("State = %v, want open", b.State())
	}

	cur = cur.Add(11 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("State = %v, want half-open after reset timeout", b.State())
	}

	t.Run("successful probe closes", func(t *testing.T) {
		if err := b.Do(ctx, succeeding); err != nil {
			t.Fatalf("Do probe: %v", err)
		}
		if b.State() != Closed {
			t.Fatalf("State = %v, want closed after successful probe", b.State())
		}
	})
}

func TestFailedProbeReopens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := New(Config{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Second})

	cur := time.Unix(5000, 0)
	b.now = func() time.Time { return cur }

	b.Do(ctx, failing)
	cur = cur.Add(11 * time.Second)

	if err := b.Do(ctx, failing); !errors.Is(err, errSource) {
		t.Fatalf("Do probe: expected source error, got %v", err)
	}
	// Probe failed — breaker re-opens and fails fast again.
	if err := b.Do(ctx, succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("Do after failed probe: expected ErrOpen, got %v", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := New(Config{Name: "test", MaxFailures: 1})

	b.Do(ctx, failing)
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("State = %v, want closed after Reset", b.State())
	}
	if err := b.Do(ctx, succeeding); err != nil {
		t.Fatalf("Do after Reset: %v", err)
	}
}
