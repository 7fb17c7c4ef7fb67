package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/averill/shopstream/internal/storage"
)

// Read returns the current view for a projection key. The retrieval path
// depends on the lifecycle:
//
//   - inline: the materialized snapshot is returned as-is, no replay;
//   - live: the stream is replayed in full on every call, nothing persisted;
//   - async: the last persisted snapshot is loaded and, for single-stream
//     projections, advanced in memory by the stream's events past the
//     record's high-water mark (catch-up read). Multi-stream records are
//     returned as persisted, since one stream alone is insufficient context.
func (e *Engine) Read(ctx context.Context, projection, key string) (json.RawMessage, error) {
	def, err := e.Definition(projection)
	if err != nil {
		return nil, err
	}
	switch def.Lifecycle {
	case LifecycleInline:
		record, err := e.store.LoadRecord(ctx, projection, key)
		if err != nil {
			return nil, err
		}
		return record.ViewJSON, nil
	case LifecycleLive:
		return e.readLive(ctx, def, key)
	default:
		return e.readCatchUp(ctx, def, key)
	}
}

func (e *Engine) readLive(ctx context.Context, def Definition, key string) (json.RawMessage, error) {
	events, err := e.store.ReadStream(ctx, key)
	if err != nil {
		return nil, err
	}
	view, err := def.Folder.Fold(key, events)
	if err != nil {
		return nil, err
	}
	return def.Folder.Encode(view)
}

func (e *Engine) readCatchUp(ctx context.Context, def Definition, key string) (json.RawMessage, error) {
	record, err := e.store.LoadRecord(ctx, def.Name, key)
	if errors.Is(err, storage.ErrNotFound) && !def.multiStream() {
		// Daemon has not materialized the record yet; fold the stream
		// directly so readers see the stream's current state.
		return e.readLive(ctx, def, key)
	}
	if err != nil {
		return nil, err
	}
	if def.multiStream() {
		return record.ViewJSON, nil
	}

	tail, err := e.store.ReadStreamSince(ctx, key, record.Applied[key])
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return record.ViewJSON, nil
	}
	view, err := def.Folder.Decode(record.ViewJSON)
	if err != nil {
		return nil, fmt.Errorf("projection %s key %s: %w", def.Name, key, err)
	}
	view, err = def.Folder.Resume(key, view, tail)
	if err != nil {
		return nil, err
	}
	return def.Folder.Encode(view)
}

// ReadAll returns every persisted record of a projection. Live projections
// have no stored records and are rejected.
func (e *Engine) ReadAll(ctx context.Context, projection string) ([]storage.ProjectionRecord, error) {
	def, err := e.Definition(projection)
	if err != nil {
		return nil, err
	}
	if def.Lifecycle == LifecycleLive {
		return nil, fmt.Errorf("projection %s is live and has no stored records", projection)
	}
	return e.store.LoadAllRecords(ctx, projection)
}
