package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m, err := NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	if m.ChunkSendDuration == nil || m.UploadDuration == nil {
		t.Error("histograms not initialised")
	}
	if m.ChunksSent == nil || m.ChunksDropped == nil || m.EventsReceived == nil ||
		m.EventsDropped == nil || m.Reconnects == nil {
		t.Error("counters not initialised")
	}
	if m.ActiveSessions == nil || m.ActiveParticipants == nil {
		t.Error("gauges not initialised")
	}

	// Recording must not panic on a fresh provider.
	ctx := context.Background()
	m.ChunksSent.Add(ctx, 1)
	m.ChunkSendDuration.Record(ctx, 0.005)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics() returned different instances")
	}
}

func TestInitProvider(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:    "polyglot-test",
		ServiceVersion: "0.0.0",
	})
	if err != nil {
		t.Fatalf("InitProvider() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
}
