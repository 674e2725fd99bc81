// Package observe provides application-wide observability primitives for the
// Polyglot session core: OpenTelemetry metrics and a Prometheus exporter
// bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is available via [InitProvider] so that metrics can be scraped
// via the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/polyglot-labs/polyglot"

// Metrics holds all OpenTelemetry metric instruments for the session core.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ChunkSendDuration tracks the latency of writing an audio chunk to the
	// streaming connection.
	ChunkSendDuration metric.Float64Histogram

	// UploadDuration tracks blob store upload latency.
	UploadDuration metric.Float64Histogram

	// ChunksSent counts audio chunks written to the streaming connection.
	// Use with attribute.String("encoding", ...).
	ChunksSent metric.Int64Counter

	// ChunksDropped counts chunks discarded because the channel was not
	// open. Use with attribute.String("reason", ...).
	ChunksDropped metric.Int64Counter

	// EventsReceived counts inbound streaming events. Use with
	// attribute.String("kind", ...).
	EventsReceived metric.Int64Counter

	// EventsDropped counts malformed or unknown inbound payloads.
	EventsDropped metric.Int64Counter

	// Reconnects counts scheduled reconnect attempts.
	Reconnects metric.Int64Counter

	// ActiveSessions tracks live room memberships.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveParticipants tracks the roster size of the joined room.
	ActiveParticipants metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for chunk-send and upload latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunkSendDuration, err = m.Float64Histogram("polyglot.chunk.send.duration",
		metric.WithDescription("Latency of writing an audio chunk to the streaming connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("polyglot.blob.upload.duration",
		metric.WithDescription("Latency of blob store uploads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("polyglot.chunks.sent",
		metric.WithDescription("Audio chunks written to the streaming connection."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("polyglot.chunks.dropped",
		metric.WithDescription("Audio chunks discarded because the channel was not open."),
	); err != nil {
		return nil, err
	}
	if met.EventsReceived, err = m.Int64Counter("polyglot.events.received",
		metric.WithDescription("Inbound streaming events by kind."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("polyglot.events.dropped",
		metric.WithDescription("Malformed or unknown inbound payloads dropped."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("polyglot.transport.reconnects",
		metric.WithDescription("Scheduled reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("polyglot.sessions.active",
		metric.WithDescription("Live room memberships."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("polyglot.participants.active",
		metric.WithDescription("Roster size of the joined room."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] instance backed by the
// global meter provider. Instruments are created lazily on first call.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Instrument creation only fails on invalid names, which is a
			// programming error.
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
