// Package observe provides application-wide observability primitives for
// Susurrus: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Susurrus metrics.
const meterName = "github.com/susurrus-chat/susurrus"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// BackendOpDuration tracks backend round-trip latency. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	BackendOpDuration metric.Float64Histogram

	// RecordingDuration tracks how long voice recordings run from start to
	// finalize.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts backend API calls. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// VoiceInteractions counts finished voice interactions. Use with attribute:
	//   attribute.String("outcome", ...) — completed, cancelled, empty, error
	VoiceInteractions metric.Int64Counter

	// VadSignals counts detection signals by type.
	VadSignals metric.Int64Counter

	// Messages counts transcript messages by role.
	Messages metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts backend failures by operation.
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live widget sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveRecordings tracks the number of microphones currently live.
	ActiveRecordings metric.Int64UpDownCounter

	// ActivePlayers tracks the number of bound audio players.
	ActivePlayers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive voice latencies.
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
	if met.BackendOpDuration, err = m.Float64Histogram("susurrus.backend.duration",
		metric.WithDescription("Latency of backend operations by op and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("susurrus.recording.duration",
		metric.WithDescription("Duration of voice recordings from start to finalize."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("susurrus.backend.requests",
		metric.WithDescription("Total backend API requests by op and status."),
	); err != nil {
		return nil, err
	}
	if met.VoiceInteractions, err = m.Int64Counter("susurrus.voice.interactions",
		metric.WithDescription("Total finished voice interactions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.VadSignals, err = m.Int64Counter("susurrus.vad.signals",
		metric.WithDescription("Total voice-activity signals by type."),
	); err != nil {
		return nil, err
	}
	if met.Messages, err = m.Int64Counter("susurrus.messages",
		metric.WithDescription("Total transcript messages by role."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("susurrus.backend.errors",
		metric.WithDescription("Total backend failures by op."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("susurrus.active_sessions",
		metric.WithDescription("Number of live widget sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("susurrus.active_recordings",
		metric.WithDescription("Number of microphones currently live."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlayers, err = m.Int64UpDownCounter("susurrus.active_players",
		metric.WithDescription("Number of bound audio players."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("susurrus.http.request.duration",
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

// RecordBackendRequest is a convenience method that records a backend request
// counter increment with the standard attribute set.
func (m *Metrics) RecordBackendRequest(ctx context.Context, op, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordBackendError is a convenience method that records a backend error
// counter increment.
func (m *Metrics) RecordBackendError(ctx context.Context, op string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordVoiceInteraction is a convenience method that records one finished
// voice interaction.
func (m *Metrics) RecordVoiceInteraction(ctx context.Context, outcome string) {
	m.VoiceInteractions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordVadSignal is a convenience method that records one detection signal.
func (m *Metrics) RecordVadSignal(ctx context.Context, signalType string) {
	m.VadSignals.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", signalType)),
	)
}

// RecordMessage is a convenience method that records one transcript message.
func (m *Metrics) RecordMessage(ctx context.Context, role string) {
	m.Messages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}
