package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/averill/shopstream/internal/domain/event"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrStreamNotFound indicates an append or read against a stream that was
// never started.
var ErrStreamNotFound = apperrors.New(apperrors.CodeStreamNotFound, "stream not found")

// ErrStreamExists indicates an attempt to start a stream that already exists.
var ErrStreamExists = apperrors.New(apperrors.CodeStreamExists, "stream already exists")

// ErrStreamTypeMismatch indicates an append whose declared stream type
// differs from the type fixed at stream creation.
var ErrStreamTypeMismatch = apperrors.New(apperrors.CodeStreamTypeMismatch, "stream type mismatch")

// ErrConcurrentAppend indicates an optimistic append lost a race: the stream
// advanced after the caller fetched it for writing.
var ErrConcurrentAppend = apperrors.New(apperrors.CodeConcurrentAppend, "stream changed since fetch")

// StreamAppend describes events destined for one stream within an atomic
// write. A single logical command may carry appends for several streams;
// either every event across every stream is durably appended, or none are.
type StreamAppend struct {
	StreamID   string
	StreamType event.StreamType
	// Create starts the stream; the append fails with ErrStreamExists if the
	// stream is already present. Without Create, appending to a missing
	// stream fails with ErrStreamNotFound.
	Create bool
	// ExpectedLastSeq, when non-nil, guards the append optimistically: the
	// write fails with ErrConcurrentAppend unless the stream's last sequence
	// still equals this value.
	ExpectedLastSeq *uint64
	Events          []event.Event
}

// InlineApplier runs inside the append transaction, after sequence numbers
// are assigned and events inserted, but before commit. Inline projections
// fold here so a projection failure aborts the entire write.
type InlineApplier func(ctx context.Context, tx ProjectionTx, appended []event.Event) error

// EventLog is the append-only log boundary.
type EventLog interface {
	// Append atomically appends all events across all stream appends and
	// runs the inline applier in the same transaction. The returned events
	// carry their assigned per-stream and global sequence numbers, in input
	// order.
	Append(ctx context.Context, appends []StreamAppend, inline InlineApplier) ([]event.Event, error)
	// StreamInfo returns the declared type and last sequence of a stream.
	StreamInfo(ctx context.Context, streamID string) (event.StreamType, uint64, error)
	// ReadStream returns a stream's events in sequence order.
	ReadStream(ctx context.Context, streamID string) ([]event.Event, error)
	// ReadStreamSince returns a stream's events with seq greater than afterSeq.
	ReadStreamSince(ctx context.Context, streamID string, afterSeq uint64) ([]event.Event, error)
	// ReadSince returns up to limit events across all streams with global
	// sequence greater than afterGlobalSeq, in global order.
	ReadSince(ctx context.Context, afterGlobalSeq uint64, limit int) ([]event.Event, error)
	// LatestGlobalSeq returns the highest assigned global sequence, 0 when
	// the log is empty.
	LatestGlobalSeq(ctx context.Context) (uint64, error)
}

// ProjectionRecord is the persisted row for one (projection, key) pair.
type ProjectionRecord struct {
	Projection string
	Key        string
	ViewJSON   json.RawMessage
	// Applied maps stream id to the highest per-stream sequence folded into
	// the view. Folding skips events at or below these marks, which makes
	// replay after a crash and duplicate correlation paths idempotent.
	Applied   map[string]uint64
	UpdatedAt time.Time
}

// AlreadyApplied reports whether the event is at or below the record's
// high-water mark for its stream.
func (r ProjectionRecord) AlreadyApplied(evt event.Event) bool {
	return evt.Seq <= r.Applied[evt.StreamID]
}

// MarkApplied records the event in the high-water map.
func (r *ProjectionRecord) MarkApplied(evt event.Event) {
	if r.Applied == nil {
		r.Applied = make(map[string]uint64)
	}
	if evt.Seq > r.Applied[evt.StreamID] {
		r.Applied[evt.StreamID] = evt.Seq
	}
}

// ProjectionStore persists the latest folded value per projection key.
type ProjectionStore interface {
	// LoadRecord returns one record, or ErrNotFound.
	LoadRecord(ctx context.Context, projection, key string) (ProjectionRecord, error)
	// LoadAllRecords returns every record of a projection ordered by key.
	LoadAllRecords(ctx context.Context, projection string) ([]ProjectionRecord, error)
	// SaveRecord upserts a record.
	SaveRecord(ctx context.Context, record ProjectionRecord) error
	// DeleteRecord removes one record; missing records are a no-op.
	DeleteRecord(ctx context.Context, projection, key string) error
	// DeleteRecords removes all records of a projection (rebuild truncate).
	DeleteRecords(ctx context.Context, projection string) error
}

// Checkpoint is the durable progress marker of an asynchronous projection.
type Checkpoint struct {
	Projection string
	GlobalSeq  uint64
	UpdatedAt  time.Time
}

// CheckpointStore persists catch-up progress per projection.
type CheckpointStore interface {
	// GetCheckpoint returns the last processed global sequence, 0 when the
	// projection has never advanced.
	GetCheckpoint(ctx context.Context, projection string) (uint64, error)
	// AdvanceCheckpoint upserts the checkpoint for a projection.
	AdvanceCheckpoint(ctx context.Context, projection string, globalSeq uint64) error
	// ResetCheckpoint deletes the checkpoint so catch-up restarts from zero.
	ResetCheckpoint(ctx context.Context, projection string) error
	// ListCheckpoints returns all checkpoints ordered by projection name.
	ListCheckpoints(ctx context.Context) ([]Checkpoint, error)
}

// ProjectionTx is the transaction-scoped view of projection state. Record
// writes and checkpoint advancement through one ProjectionTx commit or roll
// back together.
type ProjectionTx interface {
	ProjectionStore
	CheckpointStore
}

// ProjectionBatcher runs a function against a ProjectionTx in one
// transaction. The async daemon uses this to keep a batch's record writes
// and its checkpoint advance atomic.
type ProjectionBatcher interface {
	WithProjectionTx(ctx context.Context, fn func(ctx context.Context, tx ProjectionTx) error) error
}

// Store is the full persistence surface the engine wires against.
type Store interface {
	EventLog
	ProjectionStore
	CheckpointStore
	ProjectionBatcher
}
