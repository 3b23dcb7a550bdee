// Package observe provides application-wide observability primitives for the
// interview-assistant server: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all application metrics.
const meterName = "github.com/interviewd/interviewd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SegmentDuration tracks the wall-clock duration of a closed speech
	// segment, from speech onset to segment close.
	SegmentDuration metric.Float64Histogram

	// ASRDuration tracks the latency of a single recognize() call against
	// the ASR engine adapter.
	ASRDuration metric.Float64Histogram

	// LLMDuration tracks end-to-end LLM streaming completion latency.
	LLMDuration metric.Float64Histogram

	// LLMTimeToFirstToken tracks the latency from request start to the
	// first streamed token.
	LLMTimeToFirstToken metric.Float64Histogram

	// --- Counters ---

	// DroppedFrames counts audio frames dropped by the bounded queue's
	// backpressure policy. Use with attribute: attribute.String("session_id", ...)
	DroppedFrames metric.Int64Counter

	// SuppressedDuplicates counts final transcripts suppressed as
	// near-duplicates by the post-processor.
	SuppressedDuplicates metric.Int64Counter

	// LLMRetries counts LLM client retry attempts. Use with attribute:
	//   attribute.String("reason", ...) one of stream_unsupported,
	//   temp_unsupported, max_tokens_unsupported, length_limit, network_error.
	LLMRetries metric.Int64Counter

	// --- Error counters ---

	// ASRErrors counts ASR engine adapter failures.
	ASRErrors metric.Int64Counter

	// LLMErrors counts LLM streaming calls that ended in an error, whether
	// or not the error was retried first.
	LLMErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// InFlightLLMCalls tracks the number of chat-completion requests
	// currently in flight across all sessions.
	InFlightLLMCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.SegmentDuration, err = m.Float64Histogram("interviewd.segment.duration",
		metric.WithDescription("Duration of a closed speech segment, onset to close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = m.Float64Histogram("interviewd.asr.duration",
		metric.WithDescription("Latency of a single ASR engine recognize() call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("interviewd.llm.duration",
		metric.WithDescription("End-to-end latency of a streaming chat-completion call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMTimeToFirstToken, err = m.Float64Histogram("interviewd.llm.ttft",
		metric.WithDescription("Latency from request start to first streamed token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.DroppedFrames, err = m.Int64Counter("interviewd.audio.dropped_frames",
		metric.WithDescription("Total audio frames dropped by queue backpressure."),
	); err != nil {
		return nil, err
	}
	if met.SuppressedDuplicates, err = m.Int64Counter("interviewd.transcript.suppressed_duplicates",
		metric.WithDescription("Total final transcripts suppressed as near-duplicates."),
	); err != nil {
		return nil, err
	}
	if met.LLMRetries, err = m.Int64Counter("interviewd.llm.retries",
		metric.WithDescription("Total LLM client retry attempts by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ASRErrors, err = m.Int64Counter("interviewd.asr.errors",
		metric.WithDescription("Total ASR engine adapter failures."),
	); err != nil {
		return nil, err
	}
	if met.LLMErrors, err = m.Int64Counter("interviewd.llm.errors",
		metric.WithDescription("Total LLM calls that ended in an error."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("interviewd.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}
	if met.InFlightLLMCalls, err = m.Int64UpDownCounter("interviewd.llm.in_flight",
		metric.WithDescription("Number of chat-completion requests currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("interviewd.http.request.duration",
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

// RecordDroppedFrame is a convenience method that records a dropped-frame
// counter increment for the given session.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, sessionID string) {
	m.DroppedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session_id", sessionID)),
	)
}

// RecordSuppressedDuplicate is a convenience method that records a
// suppressed-duplicate counter increment for the given session.
func (m *Metrics) RecordSuppressedDuplicate(ctx context.Context, sessionID string) {
	m.SuppressedDuplicates.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session_id", sessionID)),
	)
}

// RecordLLMRetry is a convenience method that records an LLM retry counter
// increment for the given classified reason.
func (m *Metrics) RecordLLMRetry(ctx context.Context, reason string) {
	m.LLMRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordASRError is a convenience method that records an ASR error counter
// increment.
func (m *Metrics) RecordASRError(ctx context.Context, sessionID string) {
	m.ASRErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session_id", sessionID)),
	)
}

// RecordLLMError is a convenience method that records an LLM error counter
// increment.
func (m *Metrics) RecordLLMError(ctx context.Context, model string) {
	m.LLMErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model", model)),
	)
}
