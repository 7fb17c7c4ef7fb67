package telemetry

import (
	"context"
	"testing"
)

func TestNewMetricsRegistersInstruments(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	// Recording against the default no-op provider must not panic.
	ctx := context.Background()
	m.RecordEventsApplied(ctx, "order-summary", 3)
	m.RecordBatchCommitted(ctx, "order-summary")
	m.RecordBatchRetry(ctx, "order-summary")
	m.RecordRecordSaved(ctx, "order-summary")
	m.RecordNotificationDropped(ctx, "order-summary")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordEventsApplied(context.Background(), "order-summary", 1)
	m.RecordBatchCommitted(context.Background(), "order-summary")
}
