// Package observe provides the observability primitives of neurolink:
// OpenTelemetry metrics and tracing, trace-aware logging, and HTTP middleware
// for the local health and metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. Tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all neurolink metrics.
const meterName = "github.com/MrWong99/neurolink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Audio bridge ---

	// FramesCaptured counts microphone frames produced by the capture pipeline.
	FramesCaptured metric.Int64Counter

	// FramesSent counts frames accepted by the session channel.
	FramesSent metric.Int64Counter

	// ChunksReceived counts model audio chunks received from the live service.
	ChunksReceived metric.Int64Counter

	// ChunksDropped counts received chunks that failed to decode.
	ChunksDropped metric.Int64Counter

	// Interruptions counts barge-in events that flushed playback.
	Interruptions metric.Int64Counter

	// InterruptedChunks counts scheduled chunks stopped by barge-in.
	InterruptedChunks metric.Int64Counter

	// PlaybackLead tracks how far ahead of the output clock a chunk was
	// scheduled, in seconds. Zero means an underrun.
	PlaybackLead metric.Float64Histogram

	// SessionDuration tracks how long live sessions stayed open.
	SessionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- One-shot services ---

	// GenerateDuration tracks one-shot request latency. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	GenerateDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// FocusClassifications counts applied focus results. Use with attribute:
	//   attribute.String("state", ...)
	FocusClassifications metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds for remote
// request latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// leadBuckets covers the playback lead between an underrun and a few
// seconds of queued speech.
var leadBuckets = []float64{
	0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5,
}

// sessionBuckets covers live sessions from seconds to an hour.
var sessionBuckets = []float64{
	1, 10, 30, 60, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesCaptured, "neurolink.audio.frames_captured", "Microphone frames produced by the capture pipeline."},
		{&met.FramesSent, "neurolink.audio.frames_sent", "Frames accepted by the live session."},
		{&met.ChunksReceived, "neurolink.audio.chunks_received", "Model audio chunks received from the live service."},
		{&met.ChunksDropped, "neurolink.audio.chunks_dropped", "Received audio chunks that failed to decode."},
		{&met.Interruptions, "neurolink.playback.interruptions", "Barge-in events that flushed playback."},
		{&met.InterruptedChunks, "neurolink.playback.interrupted_chunks", "Scheduled chunks stopped by barge-in."},
		{&met.ProviderRequests, "neurolink.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "neurolink.provider.errors", "Total provider errors by provider and kind."},
		{&met.FocusClassifications, "neurolink.focus.classifications", "Applied focus classifications by state."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Histograms.
	if met.PlaybackLead, err = m.Float64Histogram("neurolink.playback.lead",
		metric.WithDescription("Time between scheduling a chunk and its start on the output clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("neurolink.session.duration",
		metric.WithDescription("Lifetime of live sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerateDuration, err = m.Float64Histogram("neurolink.generate.duration",
		metric.WithDescription("Latency of one-shot generation requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("neurolink.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("neurolink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordGenerate records the latency and outcome of a one-shot request.
// kind is "focus" or "document".
func (m *Metrics) RecordGenerate(ctx context.Context, provider, kind string, seconds float64, err error) {
	m.GenerateDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}

// RecordFocus records an applied focus classification.
func (m *Metrics) RecordFocus(ctx context.Context, state string) {
	m.FocusClassifications.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state)),
	)
}

// RecordInterrupt records a barge-in that stopped n scheduled chunks.
func (m *Metrics) RecordInterrupt(ctx context.Context, n int) {
	m.Interruptions.Add(ctx, 1)
	m.InterruptedChunks.Add(ctx, int64(n))
}
