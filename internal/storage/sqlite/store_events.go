package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/averill/shopstream/internal/domain/event"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
	"github.com/averill/shopstream/internal/storage"
)

// Append atomically appends all events across all stream appends and runs the
// inline applier in the same transaction.
func (s *Store) Append(ctx context.Context, appends []storage.StreamAppend, inline storage.InlineApplier) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if s.registry == nil {
		return nil, fmt.Errorf("event registry is required")
	}
	if len(appends) == 0 {
		return nil, fmt.Errorf("at least one stream append is required")
	}
	for _, a := range appends {
		if strings.TrimSpace(a.StreamID) == "" {
			return nil, fmt.Errorf("stream id is required")
		}
		if len(a.Events) == 0 {
			return nil, fmt.Errorf("stream append for %s carries no events", a.StreamID)
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var appended []event.Event
	for _, a := range appends {
		events, err := s.appendOne(ctx, tx, a)
		if err != nil {
			return nil, err
		}
		appended = append(appended, events...)
	}

	if inline != nil {
		if err := inline(ctx, &projectionTx{tx: tx}, appended); err != nil {
			return nil, fmt.Errorf("inline projection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return appended, nil
}

func (s *Store) appendOne(ctx context.Context, tx *sql.Tx, a storage.StreamAppend) ([]event.Event, error) {
	streamType, lastSeq, err := streamInfo(ctx, tx, a.StreamID)
	switch {
	case errors.Is(err, storage.ErrStreamNotFound):
		if !a.Create {
			return nil, apperrors.Wrap(apperrors.CodeStreamNotFound,
				fmt.Sprintf("stream %s does not exist", a.StreamID), err)
		}
		if strings.TrimSpace(string(a.StreamType)) == "" {
			return nil, fmt.Errorf("stream type is required to start stream %s", a.StreamID)
		}
		if !s.registry.Creates(a.Events[0].Type) {
			return nil, apperrors.New(apperrors.CodeMissingInitialEvent,
				fmt.Sprintf("stream %s must start with a creation event, got %s", a.StreamID, a.Events[0].Type))
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO streams (stream_id, stream_type, last_seq, created_at) VALUES (?, ?, 0, ?)`,
			a.StreamID, string(a.StreamType), toMillis(now),
		); err != nil {
			return nil, fmt.Errorf("create stream %s: %w", a.StreamID, err)
		}
		streamType = a.StreamType
		lastSeq = 0
	case err != nil:
		return nil, err
	default:
		if a.Create {
			return nil, apperrors.New(apperrors.CodeStreamExists,
				fmt.Sprintf("stream %s already exists", a.StreamID))
		}
		if a.StreamType != "" && a.StreamType != streamType {
			return nil, apperrors.WithMetadata(apperrors.CodeStreamTypeMismatch,
				fmt.Sprintf("stream %s is %s, append declared %s", a.StreamID, streamType, a.StreamType),
				map[string]string{"stream_id": a.StreamID})
		}
		if a.ExpectedLastSeq != nil && *a.ExpectedLastSeq != lastSeq {
			return nil, apperrors.WithMetadata(apperrors.CodeConcurrentAppend,
				fmt.Sprintf("stream %s advanced to seq %d, expected %d", a.StreamID, lastSeq, *a.ExpectedLastSeq),
				map[string]string{"stream_id": a.StreamID})
		}
	}

	appended := make([]event.Event, 0, len(a.Events))
	for i, evt := range a.Events {
		validated, err := s.registry.ValidateForAppend(evt)
		if err != nil {
			return nil, err
		}
		evt = validated
		if evt.StreamType != streamType {
			return nil, apperrors.WithMetadata(apperrors.CodeStreamTypeMismatch,
				fmt.Sprintf("event %s belongs to %s streams, stream %s is %s", evt.Type, evt.StreamType, a.StreamID, streamType),
				map[string]string{"stream_id": a.StreamID})
		}
		evt.StreamID = a.StreamID
		evt.Seq = lastSeq + uint64(i) + 1
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now().UTC()
		}
		evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)

		res, err := tx.ExecContext(ctx,
			`INSERT INTO events (stream_id, seq, event_type, payload_json, timestamp) VALUES (?, ?, ?, ?, ?)`,
			evt.StreamID, int64(evt.Seq), string(evt.Type), string(evt.PayloadJSON), toMillis(evt.Timestamp),
		)
		if err != nil {
			return nil, fmt.Errorf("insert event %s seq %d: %w", evt.StreamID, evt.Seq, err)
		}
		globalSeq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read assigned global seq: %w", err)
		}
		evt.GlobalSeq = uint64(globalSeq)
		appended = append(appended, evt)
	}

	newLastSeq := lastSeq + uint64(len(a.Events))
	if _, err := tx.ExecContext(ctx,
		`UPDATE streams SET last_seq = ? WHERE stream_id = ?`,
		int64(newLastSeq), a.StreamID,
	); err != nil {
		return nil, fmt.Errorf("advance stream %s: %w", a.StreamID, err)
	}
	return appended, nil
}

// StreamInfo returns the declared type and last sequence of a stream.
func (s *Store) StreamInfo(ctx context.Context, streamID string) (event.StreamType, uint64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	return streamInfo(ctx, s.sqlDB, streamID)
}

func streamInfo(ctx context.Context, q dbtx, streamID string) (event.StreamType, uint64, error) {
	var (
		streamType string
		lastSeq    int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT stream_type, last_seq FROM streams WHERE stream_id = ?`, streamID,
	).Scan(&streamType, &lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, storage.ErrStreamNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("get stream %s: %w", streamID, err)
	}
	return event.StreamType(streamType), uint64(lastSeq), nil
}

// ReadStream returns a stream's events in sequence order.
func (s *Store) ReadStream(ctx context.Context, streamID string) ([]event.Event, error) {
	return s.ReadStreamSince(ctx, streamID, 0)
}

// ReadStreamSince returns a stream's events with seq greater than afterSeq.
func (s *Store) ReadStreamSince(ctx context.Context, streamID string, afterSeq uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := streamInfo(ctx, s.sqlDB, streamID); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT global_seq, stream_id, seq, event_type, payload_json, timestamp
		 FROM events
		 WHERE stream_id = ? AND seq > ?
		 ORDER BY seq ASC`,
		streamID, int64(afterSeq),
	)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", streamID, err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

// ReadSince returns up to limit events across all streams with global
// sequence greater than afterGlobalSeq.
func (s *Store) ReadSince(ctx context.Context, afterGlobalSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT global_seq, stream_id, seq, event_type, payload_json, timestamp
		 FROM events
		 WHERE global_seq > ?
		 ORDER BY global_seq ASC
		 LIMIT ?`,
		int64(afterGlobalSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read events since %d: %w", afterGlobalSeq, err)
	}
	defer rows.Close()
	return s.scanEvents(rows)
}

// LatestGlobalSeq returns the highest assigned global sequence.
func (s *Store) LatestGlobalSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var latest sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT MAX(global_seq) FROM events`).Scan(&latest); err != nil {
		return 0, fmt.Errorf("get latest global seq: %w", err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return uint64(latest.Int64), nil
}

func (s *Store) scanEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			globalSeq       int64
			streamID        string
			seq             int64
			eventType       string
			payloadJSON     string
			timestampMillis int64
		)
		if err := rows.Scan(&globalSeq, &streamID, &seq, &eventType, &payloadJSON, &timestampMillis); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt := event.Event{
			StreamID:    streamID,
			Seq:         uint64(seq),
			GlobalSeq:   uint64(globalSeq),
			Type:        event.Type(eventType),
			Timestamp:   fromMillis(timestampMillis),
			PayloadJSON: []byte(payloadJSON),
		}
		if streamType, ok := s.registry.StreamTypeOf(evt.Type); ok {
			evt.StreamType = streamType
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
