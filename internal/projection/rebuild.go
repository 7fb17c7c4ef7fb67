package projection

import (
	"context"
	"fmt"

	"github.com/averill/shopstream/internal/notify"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
	"github.com/averill/shopstream/internal/storage"
)

// Rebuild drops a projection's records and refolds the entire event history
// from global sequence zero. The result equals the materialized state an
// uninterrupted run would have produced, provided no concurrent writes occur
// during the rebuild. Live projections persist nothing and cannot be rebuilt.
func (e *Engine) Rebuild(ctx context.Context, projection string) error {
	def, err := e.Definition(projection)
	if err != nil {
		return err
	}
	if def.Lifecycle == LifecycleLive {
		return apperrors.New(apperrors.CodeLifecycleNotSupported,
			fmt.Sprintf("projection %s is live and persists nothing to rebuild", projection))
	}

	until, err := e.store.LatestGlobalSeq(ctx)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", projection, err)
	}

	err = e.store.WithProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
		if err := tx.DeleteRecords(ctx, projection); err != nil {
			return err
		}
		return tx.ResetCheckpoint(ctx, projection)
	})
	if err != nil {
		return fmt.Errorf("rebuild %s: reset: %w", projection, err)
	}

	cursor := uint64(0)
	for cursor < until {
		next, touched, err := e.processBatch(ctx, def, cursor, defaultBatchSize)
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", projection, err)
		}
		if next == cursor {
			break
		}
		cursor = next
		e.emit(ctx, touched)
	}
	return nil
}

// RebuildStream refolds one stream's record of a single-stream projection by
// replaying just that stream. Multi-stream projections are rejected: one
// stream's events are insufficient context for a slice.
func (e *Engine) RebuildStream(ctx context.Context, projection, streamID string) error {
	def, err := e.Definition(projection)
	if err != nil {
		return err
	}
	if def.multiStream() {
		return apperrors.New(apperrors.CodeRebuildNotSupported,
			fmt.Sprintf("projection %s correlates multiple streams; rebuild it in full", projection))
	}
	if def.Lifecycle == LifecycleLive {
		return apperrors.New(apperrors.CodeLifecycleNotSupported,
			fmt.Sprintf("projection %s is live and persists nothing to rebuild", projection))
	}

	events, err := e.store.ReadStream(ctx, streamID)
	if err != nil {
		return err
	}
	view, err := def.Folder.Fold(streamID, events)
	if err != nil {
		return err
	}
	encoded, err := def.Folder.Encode(view)
	if err != nil {
		return err
	}

	record := storage.ProjectionRecord{
		Projection: projection,
		Key:        streamID,
		ViewJSON:   encoded,
	}
	for _, evt := range events {
		record.MarkApplied(evt)
	}
	if err := e.store.SaveRecord(ctx, record); err != nil {
		return err
	}
	e.emit(ctx, []notify.Notification{{Projection: projection, RecordID: streamID}})
	return nil
}
