package perfmon

import (
	"context"
	"log/slog"
	"time"
)

// Baseline is the rolling performance profile of one operation.
type Baseline struct {
	Operation    string
	MeanDuration time.Duration
	P50          time.Duration
	P95          time.Duration
	MeanMemory   int64
	MeanMatches  float64
	MeanGap      time.Duration // mean time between consecutive calls
	Samples      int
	ComputedAt   time.Time
}

const (
	// baselineWindow is how far back metrics count toward a baseline.
	baselineWindow = time.Hour

	// baselineMinSamples is the minimum window population; below it the
	// previous baseline is retained rather than replaced by noise.
	baselineMinSamples = 10
)

// Run recomputes baselines on a fixed interval until ctx is cancelled.
// Intended to be launched once from the composition root.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.baselineInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RecomputeBaselines()
		}
	}
}

// RecomputeBaselines rebuilds the per-operation baselines from the last
// hour of metrics. Operations with too few recent samples keep their
// previous baseline.
func (m *Monitor) RecomputeBaselines() {
	now := m.now()
	recent := m.snapshotSince(now.Add(-baselineWindow))

	byOp := make(map[string][]Metric)
	for _, mt := range recent {
		byOp[mt.Operation] = append(byOp[mt.Operation], mt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for op, metrics := range byOp {
		if len(metrics) < baselineMinSamples {
			slog.Debug("retaining previous baseline",
				"operation", op,
				"samples", len(metrics),
				"min", baselineMinSamples,
			)
			continue
		}
		m.baselines[op] = computeBaseline(op, metrics, now)
	}
}

// computeBaseline derives one operation's baseline from its window of
// metrics, which must be ordered oldest first.
func computeBaseline(op string, metrics []Metric, now time.Time) Baseline {
	var (
		totalDur     time.Duration
		totalMem     int64
		totalMatches int
		totalGap     time.Duration
	)
	for i, mt := range metrics {
		totalDur += mt.Duration
		totalMem += mt.MemoryDelta
		totalMatches += mt.PatternMatches
		if i > 0 {
			totalGap += mt.Started.Sub(metrics[i-1].Started)
		}
	}

	n := len(metrics)
	sorted := sortedDurations(metrics)

	b := Baseline{
		Operation:    op,
		MeanDuration: totalDur / time.Duration(n),
		P50:          durationPercentile(sorted, 0.50),
		P95:          durationPercentile(sorted, 0.95),
		MeanMemory:   totalMem / int64(n),
		MeanMatches:  float64(totalMatches) / float64(n),
		Samples:      n,
		ComputedAt:   now,
	}
	if n > 1 {
		b.MeanGap = totalGap / time.Duration(n-1)
	}
	return b
}

// Baselines returns a copy of the current per-operation baselines.
func (m *Monitor) Baselines() map[string]Baseline {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Baseline, len(m.baselines))
	for op, b := range m.baselines {
		out[op] = b
	}
	return out
}
