// Package observe provides application-wide observability primitives for the
// sales copilot: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all copilot metrics.
const meterName = "github.com/MrWong99/salescopilot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Stream session ---

	// FramesSent counts binary audio frames written to the transport,
	// excluding the end-of-audio sentinel.
	FramesSent metric.Int64Counter

	// BytesSent counts PCM bytes written to the transport.
	BytesSent metric.Int64Counter

	// FramesDropped counts chunks that never reached the transport. Use with
	// attribute:
	//   attribute.String("reason", ...) // not_open, closed, backpressure
	FramesDropped metric.Int64Counter

	// HandshakeDuration tracks how long the transport handshake takes.
	HandshakeDuration metric.Float64Histogram

	// SessionErrors counts sessions that ended in failure. Use with attribute:
	//   attribute.String("kind", ...) // handshake, device, decode, remote_close
	SessionErrors metric.Int64Counter

	// ActiveSessions tracks the number of open stream sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Transcript ---

	// TranscriptEvents counts appended transcript segments. Use with attribute:
	//   attribute.String("kind", ...) // partial, final
	TranscriptEvents metric.Int64Counter

	// TranscriptMalformed counts inbound messages that could not be parsed.
	TranscriptMalformed metric.Int64Counter

	// TriggerMatches counts detected trigger phrases.
	TriggerMatches metric.Int64Counter

	// --- Copilot backend ---

	// AssistDuration tracks assist request latency, trigger to answer.
	AssistDuration metric.Float64Histogram

	// BackendRequests counts REST calls to the copilot backend. Use with
	// attributes:
	//   attribute.String("endpoint", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// handshakes and RAG round-trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Stream.
	if met.FramesSent, err = m.Int64Counter("copilot.stream.frames_sent",
		metric.WithDescription("Audio frames written to the transcription transport."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("copilot.stream.bytes_sent",
		metric.WithDescription("PCM bytes written to the transcription transport."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("copilot.stream.frames_dropped",
		metric.WithDescription("Audio frames dropped before reaching the transport, by reason."),
	); err != nil {
		return nil, err
	}
	if met.HandshakeDuration, err = m.Float64Histogram("copilot.stream.handshake.duration",
		metric.WithDescription("Latency of the transport handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("copilot.stream.session_errors",
		metric.WithDescription("Stream sessions that ended in failure, by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("copilot.stream.active_sessions",
		metric.WithDescription("Number of open stream sessions."),
	); err != nil {
		return nil, err
	}

	// Transcript.
	if met.TranscriptEvents, err = m.Int64Counter("copilot.transcript.events",
		metric.WithDescription("Transcript segments appended to the log, by kind."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptMalformed, err = m.Int64Counter("copilot.transcript.malformed",
		metric.WithDescription("Inbound messages ignored because they could not be parsed."),
	); err != nil {
		return nil, err
	}
	if met.TriggerMatches, err = m.Int64Counter("copilot.trigger.matches",
		metric.WithDescription("Trigger phrases detected in the transcript."),
	); err != nil {
		return nil, err
	}

	// Backend.
	if met.AssistDuration, err = m.Float64Histogram("copilot.assist.duration",
		metric.WithDescription("Latency of assist requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("copilot.backend.requests",
		metric.WithDescription("Copilot backend REST requests by endpoint and status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("copilot.http.request.duration",
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

// RecordFrameSent records one audio frame of n bytes written to the transport.
func (m *Metrics) RecordFrameSent(ctx context.Context, n int) {
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(n))
}

// RecordFrameDropped records one dropped audio frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSessionError records a failed session.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTranscriptEvent records an appended transcript segment.
func (m *Metrics) RecordTranscriptEvent(ctx context.Context, final bool) {
	kind := "partial"
	if final {
		kind = "final"
	}
	m.TranscriptEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordBackendRequest records a copilot backend REST call.
func (m *Metrics) RecordBackendRequest(ctx context.Context, endpoint, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", status),
		),
	)
}
