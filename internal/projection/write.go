package projection

import (
	"context"
	"fmt"

	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/notify"
	"github.com/averill/shopstream/internal/storage"
)

// Append atomically appends events across one or more streams and folds all
// inline projections inside the same transaction. A failing inline fold
// aborts the whole write. Change notifications go out only after commit.
func (e *Engine) Append(ctx context.Context, appends []storage.StreamAppend) ([]event.Event, error) {
	var pending []notify.Notification
	inline := func(ctx context.Context, tx storage.ProjectionTx, appended []event.Event) error {
		pending = pending[:0]
		for _, def := range e.definitionsByLifecycle(LifecycleInline) {
			arena, err := e.route(ctx, def, e.relevant(def, appended), nil)
			if err != nil {
				return fmt.Errorf("route inline %s: %w", def.Name, err)
			}
			for _, key := range arena.Keys() {
				changed, err := e.foldSlice(ctx, tx, def, arena.Slice(key))
				if err != nil {
					return fmt.Errorf("fold inline %s: %w", def.Name, err)
				}
				if changed {
					pending = append(pending, notify.Notification{Projection: def.Name, RecordID: key})
				}
			}
		}
		return nil
	}

	appended, err := e.store.Append(ctx, appends, inline)
	if err != nil {
		return nil, err
	}
	e.emit(ctx, pending)
	return appended, nil
}

// StartStream creates a stream with its initial events.
func (e *Engine) StartStream(ctx context.Context, streamType event.StreamType, streamID string, events ...event.Event) ([]event.Event, error) {
	return e.Append(ctx, []storage.StreamAppend{{
		StreamID:   streamID,
		StreamType: streamType,
		Create:     true,
		Events:     events,
	}})
}

// AppendToStream appends events to an existing stream without an optimistic
// guard.
func (e *Engine) AppendToStream(ctx context.Context, streamType event.StreamType, streamID string, events ...event.Event) ([]event.Event, error) {
	return e.Append(ctx, []storage.StreamAppend{{
		StreamID:   streamID,
		StreamType: streamType,
		Events:     events,
	}})
}

// WriteSession is an optimistic read-modify-append handle for one stream. The
// caller folds History into whatever state it needs, decides, and appends;
// the append fails if the stream advanced since the fetch.
type WriteSession struct {
	StreamID   string
	StreamType event.StreamType
	History    []event.Event

	engine  *Engine
	lastSeq uint64
}

// FetchForWriting reads a stream's history and returns a session whose
// appends are guarded against concurrent writers.
func (e *Engine) FetchForWriting(ctx context.Context, streamID string) (*WriteSession, error) {
	streamType, lastSeq, err := e.store.StreamInfo(ctx, streamID)
	if err != nil {
		return nil, err
	}
	history, err := e.store.ReadStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	return &WriteSession{
		StreamID:   streamID,
		StreamType: streamType,
		History:    history,
		engine:     e,
		lastSeq:    lastSeq,
	}, nil
}

// GuardedAppend returns the session's stream as a StreamAppend carrying the
// optimistic guard, for commands that write several streams atomically.
func (s *WriteSession) GuardedAppend(events ...event.Event) storage.StreamAppend {
	expected := s.lastSeq
	return storage.StreamAppend{
		StreamID:        s.StreamID,
		StreamType:      s.StreamType,
		ExpectedLastSeq: &expected,
		Events:          events,
	}
}

// Append appends to the session's stream, failing with ErrConcurrentAppend if
// the stream advanced since the fetch.
func (s *WriteSession) Append(ctx context.Context, events ...event.Event) ([]event.Event, error) {
	return s.engine.Append(ctx, []storage.StreamAppend{s.GuardedAppend(events...)})
}
