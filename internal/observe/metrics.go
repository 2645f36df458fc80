// Package observe provides application-wide observability primitives for
// Valet: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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
)

// meterName is the instrumentation scope name used for all Valet metrics.
const meterName = "github.com/valet-labs/valet"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ResolveDuration tracks intent resolution latency.
	ResolveDuration metric.Float64Histogram

	// ExplainDuration tracks response generation latency.
	ExplainDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end text-to-completed-command latency.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// CompletionRequests counts completion provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	CompletionRequests metric.Int64Counter

	// CommandsCreated counts commands persisted by the pipeline. Use with
	// attribute: attribute.String("intent_type", ...)
	CommandsCreated metric.Int64Counter

	// CaptureRetries counts recognizer reopens after spurious aborts.
	CaptureRetries metric.Int64Counter

	// --- Error counters ---

	// CompletionErrors counts completion provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	CompletionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for LLM-backed pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ResolveDuration, err = m.Float64Histogram("valet.resolve.duration",
		metric.WithDescription("Latency of intent resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExplainDuration, err = m.Float64Histogram("valet.explain.duration",
		metric.WithDescription("Latency of response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("valet.pipeline.duration",
		metric.WithDescription("End-to-end command pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CompletionRequests, err = m.Int64Counter("valet.completion.requests",
		metric.WithDescription("Total completion provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.CommandsCreated, err = m.Int64Counter("valet.commands.created",
		metric.WithDescription("Total commands persisted by intent type."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRetries, err = m.Int64Counter("valet.capture.retries",
		metric.WithDescription("Total recognizer reopens after spurious aborts."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CompletionErrors, err = m.Int64Counter("valet.completion.errors",
		metric.WithDescription("Total completion provider errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("valet.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("valet.http.request.duration",
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

// RecordCompletionRequest is a convenience method that records a completion
// request counter increment with the standard attribute set.
func (m *Metrics) RecordCompletionRequest(ctx context.Context, provider, status string) {
	m.CompletionRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordCommandCreated is a convenience method that records a persisted
// command counter increment.
func (m *Metrics) RecordCommandCreated(ctx context.Context, intentType string) {
	m.CommandsCreated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("intent_type", intentType)),
	)
}

// RecordCompletionError is a convenience method that records a completion
// error counter increment.
func (m *Metrics) RecordCompletionError(ctx context.Context, provider string) {
	m.CompletionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
