// Package observe provides application-wide observability primitives for
// medlex: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openclinika/medlex/internal/perfmon"
)

// meterName is the instrumentation scope name used for all medlex metrics.
const meterName = "github.com/openclinika/medlex"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per engine operation ---

	// CorrectionDuration tracks correction-application latency.
	CorrectionDuration metric.Float64Histogram

	// DisambiguationDuration tracks term-disambiguation latency.
	DisambiguationDuration metric.Float64Histogram

	// PatternCompileDuration tracks regex compile latency in the pool.
	PatternCompileDuration metric.Float64Histogram

	// --- Counters ---

	// OperationCalls counts engine operations. Use with attribute:
	//   attribute.String("operation", ...)
	OperationCalls metric.Int64Counter

	// RulesRejected counts candidate rules rejected by safe correction. Use
	// with attribute: attribute.String("reason", ...)
	RulesRejected metric.Int64Counter

	// CacheHits and CacheMisses count lookups across the engine's caches.
	// Use with attribute: attribute.String("cache", ...)
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// PatternEvictions counts pattern pool evictions.
	PatternEvictions metric.Int64Counter

	// --- Error counters ---

	// DynamicFetchErrors counts failed dynamic rule-set fetches. Use with
	// attribute: attribute.String("source", ...)
	DynamicFetchErrors metric.Int64Counter

	// --- Gauges ---

	// PoolSize tracks the number of compiled patterns held by the pool.
	PoolSize metric.Int64UpDownCounter

	// StreamSessions tracks the number of live transcript stream sessions.
	StreamSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for CPU-bound text-processing latencies.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CorrectionDuration, err = m.Float64Histogram("medlex.correction.duration",
		metric.WithDescription("Latency of correction application."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DisambiguationDuration, err = m.Float64Histogram("medlex.disambiguation.duration",
		metric.WithDescription("Latency of term disambiguation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PatternCompileDuration, err = m.Float64Histogram("medlex.pattern.compile.duration",
		metric.WithDescription("Latency of pattern compilation in the pool."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.OperationCalls, err = m.Int64Counter("medlex.operation.calls",
		metric.WithDescription("Total engine operation calls by operation."),
	); err != nil {
		return nil, err
	}
	if met.RulesRejected, err = m.Int64Counter("medlex.rules.rejected",
		metric.WithDescription("Candidate correction rules rejected by reason."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("medlex.cache.hits",
		metric.WithDescription("Cache hits by cache name."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("medlex.cache.misses",
		metric.WithDescription("Cache misses by cache name."),
	); err != nil {
		return nil, err
	}
	if met.PatternEvictions, err = m.Int64Counter("medlex.pattern.evictions",
		metric.WithDescription("Patterns evicted from the pool."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DynamicFetchErrors, err = m.Int64Counter("medlex.dynamic_fetch.errors",
		metric.WithDescription("Failed dynamic rule-set fetches by source."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PoolSize, err = m.Int64UpDownCounter("medlex.pattern.pool_size",
		metric.WithDescription("Compiled patterns currently held by the pool."),
	); err != nil {
		return nil, err
	}
	if met.StreamSessions, err = m.Int64UpDownCounter("medlex.stream.sessions",
		metric.WithDescription("Live transcript stream sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("medlex.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRuleRejection records one rejected candidate rule.
func (m *Metrics) RecordRuleRejection(ctx context.Context, reason string) {
	m.RulesRejected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordCacheLookup records one cache hit or miss for the named cache.
func (m *Metrics) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("cache", cache))
	if hit {
		m.CacheHits.Add(ctx, 1, attrs)
		return
	}
	m.CacheMisses.Add(ctx, 1, attrs)
}

// RecordDynamicFetchError records one failed dynamic rule-set fetch.
func (m *Metrics) RecordDynamicFetchError(ctx context.Context, source string) {
	m.DynamicFetchErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// ReportMetric implements [perfmon.Reporter]: it mirrors a completed
// measurement to the operation counter and the matching latency histogram.
// Fire-and-forget; OTel instruments never block.
func (m *Metrics) ReportMetric(pm perfmon.Metric) {
	ctx := context.Background()
	m.OperationCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation", pm.Operation)),
	)

	secs := pm.Duration.Seconds()
	switch pm.Operation {
	case perfmon.OpCorrection, perfmon.OpSafeCorrection:
		m.CorrectionDuration.Record(ctx, secs)
	case perfmon.OpDisambiguation, perfmon.OpAcronym, perfmon.OpBatch:
		m.DisambiguationDuration.Record(ctx, secs)
	case perfmon.OpPatternCompile:
		m.PatternCompileDuration.Record(ctx, secs)
	}
}

var _ perfmon.Reporter = (*Metrics)(nil)
