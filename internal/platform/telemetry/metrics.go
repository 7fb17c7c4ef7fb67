// Package telemetry exposes operational metrics for the projection engine.
//
// Instruments are registered against the global OpenTelemetry meter provider.
// Deployments that do not install a provider get the default no-op meter, so
// recording is always safe.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/averill/shopstream/projection"

// Metrics holds the projection engine instruments.
type Metrics struct {
	eventsApplied        metric.Int64Counter
	batchesCommitted     metric.Int64Counter
	batchRetries         metric.Int64Counter
	recordsSaved         metric.Int64Counter
	notificationsDropped metric.Int64Counter
}

// NewMetrics registers projection engine instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	eventsApplied, err := meter.Int64Counter("projection.events_applied",
		metric.WithDescription("Events applied to projection records"))
	if err != nil {
		return nil, fmt.Errorf("create events_applied counter: %w", err)
	}
	batchesCommitted, err := meter.Int64Counter("projection.batches_committed",
		metric.WithDescription("Catch-up batches committed with their checkpoint"))
	if err != nil {
		return nil, fmt.Errorf("create batches_committed counter: %w", err)
	}
	batchRetries, err := meter.Int64Counter("projection.batch_retries",
		metric.WithDescription("Catch-up batches retried after transient storage failures"))
	if err != nil {
		return nil, fmt.Errorf("create batch_retries counter: %w", err)
	}
	recordsSaved, err := meter.Int64Counter("projection.records_saved",
		metric.WithDescription("Projection records written to the store"))
	if err != nil {
		return nil, fmt.Errorf("create records_saved counter: %w", err)
	}
	notificationsDropped, err := meter.Int64Counter("projection.notifications_dropped",
		metric.WithDescription("Change notifications dropped because the bus was full"))
	if err != nil {
		return nil, fmt.Errorf("create notifications_dropped counter: %w", err)
	}

	return &Metrics{
		eventsApplied:        eventsApplied,
		batchesCommitted:     batchesCommitted,
		batchRetries:         batchRetries,
		recordsSaved:         recordsSaved,
		notificationsDropped: notificationsDropped,
	}, nil
}

// RecordEventsApplied counts events folded into a projection.
func (m *Metrics) RecordEventsApplied(ctx context.Context, projection string, count int) {
	if m == nil || m.eventsApplied == nil {
		return
	}
	m.eventsApplied.Add(ctx, int64(count), metric.WithAttributes(attribute.String("projection", projection)))
}

// RecordBatchCommitted counts a committed catch-up batch.
func (m *Metrics) RecordBatchCommitted(ctx context.Context, projection string) {
	if m == nil || m.batchesCommitted == nil {
		return
	}
	m.batchesCommitted.Add(ctx, 1, metric.WithAttributes(attribute.String("projection", projection)))
}

// RecordBatchRetry counts a retried catch-up batch.
func (m *Metrics) RecordBatchRetry(ctx context.Context, projection string) {
	if m == nil || m.batchRetries == nil {
		return
	}
	m.batchRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("projection", projection)))
}

// RecordRecordSaved counts a projection record write.
func (m *Metrics) RecordRecordSaved(ctx context.Context, projection string) {
	if m == nil || m.recordsSaved == nil {
		return
	}
	m.recordsSaved.Add(ctx, 1, metric.WithAttributes(attribute.String("projection", projection)))
}

// RecordNotificationDropped counts a dropped change notification.
func (m *Metrics) RecordNotificationDropped(ctx context.Context, projection string) {
	if m == nil || m.notificationsDropped == nil {
		return
	}
	m.notificationsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("projection", projection)))
}
