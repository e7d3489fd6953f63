// Package observe provides application-wide observability primitives for
// memoria: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] and served by
// [MetricsHandler]. A package-level default [Metrics] instance
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

// meterName is the instrumentation scope name used for all memoria metrics.
const meterName = "github.com/MrWong99/memoria"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LiveConnectDuration tracks the time from dialling a live provider until
	// the channel reports open.
	LiveConnectDuration metric.Float64Histogram

	// ChatFirstTokenDuration tracks time to the first streamed chat delta.
	ChatFirstTokenDuration metric.Float64Histogram

	// ChatDuration tracks the full duration of a streamed chat reply.
	ChatDuration metric.Float64Histogram

	// ScheduleLead tracks how far ahead of the device clock downlink audio
	// is scheduled. A lead near zero means playback is about to starve.
	ScheduleLead metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// UplinkFrames counts transport frames sent to the live provider.
	UplinkFrames metric.Int64Counter

	// DownlinkChunks counts inbound audio chunks scheduled for playback.
	DownlinkChunks metric.Int64Counter

	// DroppedChunks counts inbound audio chunks that were discarded. Use with
	// attribute.String("reason", ...): decode, backlog or device.
	DroppedChunks metric.Int64Counter

	// Interrupts counts barge-in interruptions handled.
	Interrupts metric.Int64Counter

	// StoppedSources counts playback sources cut short by interruptions.
	StoppedSources metric.Int64Counter

	// SessionsEnded counts live sessions by terminal state. Use with
	// attribute.String("state", ...).
	SessionsEnded metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveChats tracks the number of open text chats.
	ActiveChats metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// leadBuckets covers how much audio is queued ahead, in seconds.
var leadBuckets = []float64{
	0, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LiveConnectDuration, err = m.Float64Histogram("memoria.live.connect.duration",
		metric.WithDescription("Time from dialling a live provider until the session is open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatFirstTokenDuration, err = m.Float64Histogram("memoria.chat.first_token.duration",
		metric.WithDescription("Time to the first streamed chat delta."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("memoria.chat.duration",
		metric.WithDescription("Duration of a streamed chat reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLead, err = m.Float64Histogram("memoria.playback.schedule_lead",
		metric.WithDescription("Distance between a scheduled start time and the device clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("memoria.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.UplinkFrames, err = m.Int64Counter("memoria.uplink.frames",
		metric.WithDescription("Transport frames sent to the live provider."),
	); err != nil {
		return nil, err
	}
	if met.DownlinkChunks, err = m.Int64Counter("memoria.downlink.chunks",
		metric.WithDescription("Inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("memoria.downlink.dropped",
		metric.WithDescription("Inbound audio chunks discarded, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("memoria.playback.interrupts",
		metric.WithDescription("Barge-in interruptions handled."),
	); err != nil {
		return nil, err
	}
	if met.StoppedSources, err = m.Int64Counter("memoria.playback.stopped_sources",
		metric.WithDescription("Playback sources cut short by interruptions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("memoria.live.sessions.ended",
		metric.WithDescription("Live sessions by terminal state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("memoria.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("memoria.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveChats, err = m.Int64UpDownCounter("memoria.active_chats",
		metric.WithDescription("Number of open text chats."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("memoria.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
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

// RecordDroppedChunk records one discarded downlink chunk.
func (m *Metrics) RecordDroppedChunk(ctx context.Context, reason string) {
	m.DroppedChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordInterrupt records one interruption and the sources it stopped.
func (m *Metrics) RecordInterrupt(ctx context.Context, stopped int) {
	m.Interrupts.Add(ctx, 1)
	if stopped > 0 {
		m.StoppedSources.Add(ctx, int64(stopped))
	}
}

// RecordSessionEnded records a live session reaching a terminal state.
func (m *Metrics) RecordSessionEnded(ctx context.Context, state string) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
