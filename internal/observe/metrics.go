// Package observe provides application-wide observability primitives for
// celestial: OpenTelemetry metrics, tracing, trace-correlated logging, and
// HTTP middleware for the health and metrics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all celestial metrics.
const meterName = "github.com/MrWong99/celestial"

// Outcome values used as the "outcome" attribute.
const (
	OutcomeSent        = "sent"
	OutcomeMuted       = "muted"
	OutcomeNotOpen     = "not_open"
	OutcomeFailed      = "failed"
	OutcomeBusy        = "busy"
	OutcomeScheduled   = "scheduled"
	OutcomeDecodeError = "decode_error"
	OutcomeOpen        = "open"
	OutcomePaywall     = "paywall"
	OutcomeError       = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks time from connect request to setup complete.
	ConnectDuration metric.Float64Histogram

	// SummaryDuration tracks the end-of-call summary completion latency.
	SummaryDuration metric.Float64Histogram

	// --- Counters ---

	// CaptureFrames counts microphone frames. Use with attribute:
	//   attribute.String("outcome", sent|muted|not_open|failed)
	CaptureFrames metric.Int64Counter

	// PlaybackChunks counts inbound audio chunks. Use with attribute:
	//   attribute.String("outcome", scheduled|decode_error|failed)
	PlaybackChunks metric.Int64Counter

	// Interruptions counts server barge-in signals.
	Interruptions metric.Int64Counter

	// Turns counts completed turns appended to history.
	Turns metric.Int64Counter

	// Calls counts connect attempts. Use with attribute:
	//   attribute.String("outcome", open|paywall|error)
	Calls metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of open calls (0 or 1 per process).
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin endpoint latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("endpoint", [Endpoint](path))
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connect and summary latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("celestial.call.connect.duration",
		metric.WithDescription("Time from connect request until the session is open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("celestial.summary.duration",
		metric.WithDescription("Latency of the end-of-call summary completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureFrames, err = m.Int64Counter("celestial.capture.frames",
		metric.WithDescription("Microphone frames by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("celestial.playback.chunks",
		metric.WithDescription("Inbound audio chunks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("celestial.call.interruptions",
		metric.WithDescription("Server barge-in signals."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("celestial.call.turns",
		metric.WithDescription("Completed turns appended to history."),
	); err != nil {
		return nil, err
	}
	if met.Calls, err = m.Int64Counter("celestial.calls",
		metric.WithDescription("Connect attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("celestial.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("celestial.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("celestial.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("celestial.active_calls",
		metric.WithDescription("Number of open calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("celestial.http.request.duration",
		metric.WithDescription("Admin endpoint latency by method and endpoint."),
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

func outcome(o string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", o))
}

// RecordCaptureFrame counts one microphone frame with the given outcome.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, o string) {
	m.CaptureFrames.Add(ctx, 1, outcome(o))
}

// RecordPlaybackChunk counts one inbound audio chunk with the given outcome.
func (m *Metrics) RecordPlaybackChunk(ctx context.Context, o string) {
	m.PlaybackChunks.Add(ctx, 1, outcome(o))
}

// RecordCall counts one connect attempt with the given outcome.
func (m *Metrics) RecordCall(ctx context.Context, o string) {
	m.Calls.Add(ctx, 1, outcome(o))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
