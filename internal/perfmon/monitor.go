// Package perfmon collects per-operation performance measurements in a
// bounded ring buffer, maintains rolling baselines, and derives ranked
// optimisation recommendations for operators. It observes the text pipeline
// but never sits on its critical path: recording is cheap synchronous CPU
// work and every external mirror is fire-and-forget.
package perfmon

import (
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Well-known operation names. Operation is an open string so callers can
// measure ad-hoc work, but the engine sticks to these.
const (
	OpCorrection     = "apply_corrections"
	OpSafeCorrection = "apply_safe_corrections"
	OpDisambiguation = "disambiguate"
	OpAcronym        = "expand_acronym"
	OpBatch          = "batch_disambiguate"
	OpPatternCompile = "pattern_compile"
)

// Metric is one completed measurement.
type Metric struct {
	Operation      string
	Caller         string
	Started        time.Time
	Duration       time.Duration
	InputLen       int
	OutputLen      int
	PatternMatches int
	Confidence     float64
	Accuracy       float64
	Compliant      bool
	MemoryDelta    int64 // bytes of heap growth during the measurement; negative after GC
}

// Reporter mirrors completed metrics to an external sink (OpenTelemetry
// instruments). Implementations must not block.
type Reporter interface {
	ReportMetric(Metric)
}

// memoryDeltaWarnBytes is the heap-growth threshold above which a single
// measurement logs a warning.
const memoryDeltaWarnBytes = 8 << 20

const defaultRingSize = 1000

// Option configures a Monitor.
type Option func(*Monitor)

// WithRingSize overrides the metric ring buffer capacity. Default: 1000.
func WithRingSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.ring = newMetricRing(n)
		}
	}
}

// WithReporter mirrors every completed metric to r.
func WithReporter(r Reporter) Option {
	return func(m *Monitor) { m.reporter = r }
}

// WithBaselineInterval overrides how often Run recomputes baselines.
func WithBaselineInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.baselineInterval = d
		}
	}
}

// Monitor is the process-wide performance monitor. Constructed once at the
// composition root and injected into the components that measure themselves.
// Safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	ring      *metricRing
	baselines map[string]Baseline

	reporter         Reporter
	baselineInterval time.Duration

	now      func() time.Time
	readHeap func() int64
}

// New creates a Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		ring:             newMetricRing(defaultRingSize),
		baselines:        make(map[string]Baseline),
		baselineInterval: 5 * time.Minute,
		now:              time.Now,
		readHeap:         heapAlloc,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func heapAlloc() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc)
}

// Measurement accumulates optional fields for one in-flight operation.
// Obtain one from [Monitor.Start], set fields, and finish with End. Not
// safe for concurrent use; each goroutine measures its own work.
type Measurement struct {
	mon    *Monitor
	metric Metric
	heap0  int64
}

// Start begins measuring one operation invocation.
func (m *Monitor) Start(operation, caller string) *Measurement {
	return &Measurement{
		mon: m,
		metric: Metric{
			Operation: operation,
			Caller:    caller,
			Started:   m.now(),
		},
		heap0: m.readHeap(),
	}
}

// InputLen records the input text length.
func (ms *Measurement) InputLen(n int) *Measurement {
	ms.metric.InputLen = n
	return ms
}

// PatternMatches records how many pattern matches the operation performed.
func (ms *Measurement) PatternMatches(n int) *Measurement {
	ms.metric.PatternMatches = n
	return ms
}

// Confidence records the result confidence.
func (ms *Measurement) Confidence(c float64) *Measurement {
	ms.metric.Confidence = c
	return ms
}

// Accuracy records an externally supplied accuracy score.
func (ms *Measurement) Accuracy(a float64) *Measurement {
	ms.metric.Accuracy = a
	return ms
}

// Compliant records the Australian-compliance flag.
func (ms *Measurement) Compliant(ok bool) *Measurement {
	ms.metric.Compliant = ok
	return ms
}

// End completes the measurement and appends it to the ring buffer. Slow
// calls (over 2× the operation's baseline p95) and large heap growth are
// logged at warning level.
func (ms *Measurement) End(outputLen int) {
	m := ms.mon
	ms.metric.OutputLen = outputLen
	ms.metric.Duration = m.now().Sub(ms.metric.Started)
	ms.metric.MemoryDelta = m.readHeap() - ms.heap0

	m.mu.Lock()
	m.ring.add(ms.metric)
	base, haveBase := m.baselines[ms.metric.Operation]
	m.mu.Unlock()

	if haveBase && base.P95 > 0 && ms.metric.Duration > 2*base.P95 {
		slog.Warn("slow operation",
			"operation", ms.metric.Operation,
			"caller", ms.metric.Caller,
			"duration", ms.metric.Duration,
			"baseline_p95", base.P95,
		)
	}
	if ms.metric.MemoryDelta > memoryDeltaWarnBytes {
		slog.Warn("large memory delta",
			"operation", ms.metric.Operation,
			"delta_bytes", ms.metric.MemoryDelta,
		)
	}

	if m.reporter != nil {
		m.reporter.ReportMetric(ms.metric)
	}
}

// snapshotSince returns a copy of the buffered metrics recorded at or after
// cutoff, oldest first.
func (m *Monitor) snapshotSince(cutoff time.Time) []Metric {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.ring.ordered()
	out := make([]Metric, 0, len(all))
	for _, mt := range all {
		if !mt.Started.Before(cutoff) {
			out = append(out, mt)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Ring buffer
// ─────────────────────────────────────────────────────────────────────────────

// metricRing is a bounded ring buffer of metrics; oldest entries drop first.
type metricRing struct {
	data []Metric
	size int
	pos  int
	full bool
}

func newMetricRing(size int) *metricRing {
	return &metricRing{data: make([]Metric, size), size: size}
}

func (r *metricRing) add(m Metric) {
	r.data[r.pos] = m
	r.pos++
	if r.pos >= r.size {
		r.pos = 0
		r.full = true
	}
}

func (r *metricRing) len() int {
	if r.full {
		return r.size
	}
	return r.pos
}

// ordered returns the buffered metrics oldest first.
func (r *metricRing) ordered() []Metric {
	if !r.full {
		out := make([]Metric, r.pos)
		copy(out, r.data[:r.pos])
		return out
	}
	out := make([]Metric, 0, r.size)
	out = append(out, r.data[r.pos:]...)
	out = append(out, r.data[:r.pos]...)
	return out
}

// durationPercentile returns the value at percentile p (0.0–1.0) from a
// sorted slice using nearest-rank.
func durationPercentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func sortedDurations(metrics []Metric) []time.Duration {
	ds := make([]time.Duration, len(metrics))
	for i, m := range metrics {
		ds[i] = m.Duration
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
	return ds
}
