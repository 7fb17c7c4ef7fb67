// Package projection implements the projection engine: stream folding,
// cross-stream slice routing, lifecycle scheduling, and rebuilds over an
// append-only event log.
package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/notify"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
	"github.com/averill/shopstream/internal/platform/telemetry"
	"github.com/averill/shopstream/internal/storage"
)

// Definition configures one projection.
type Definition struct {
	Name      string
	Lifecycle Lifecycle
	Folder    *Folder
	// Sources lists the stream types whose events feed the projection.
	Sources []event.StreamType
	// Router enables cross-stream correlation. Nil means single-stream: the
	// record key is the stream id.
	Router *Router
}

func (d Definition) multiStream() bool {
	return d.Router != nil
}

func (d Definition) sourcedFrom(streamType event.StreamType) bool {
	for _, source := range d.Sources {
		if source == streamType {
			return true
		}
	}
	return false
}

// Engine owns the registered projections and drives folding across the three
// lifecycles.
type Engine struct {
	store    storage.Store
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	defs     map[string]Definition
	order    []string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier sets the change notifier invoked after records persist.
func WithNotifier(n notify.Notifier) EngineOption {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithMetrics sets the telemetry sink.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine over the given store.
func NewEngine(store storage.Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	e := &Engine{
		store:    store,
		notifier: notify.NopNotifier{},
		defs:     make(map[string]Definition),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Register adds a projection definition. Inline projections may not use
// indirect correlation: the appending transaction has no cross-transaction
// lookup, so only the appended events themselves can name their keys.
func (e *Engine) Register(def Definition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return fmt.Errorf("projection name is required")
	}
	if _, exists := e.defs[def.Name]; exists {
		return fmt.Errorf("projection %s is already registered", def.Name)
	}
	if !def.Lifecycle.valid() {
		return fmt.Errorf("projection %s has unknown lifecycle %q", def.Name, def.Lifecycle)
	}
	if def.Folder == nil {
		return fmt.Errorf("projection %s has no folder", def.Name)
	}
	if len(def.Sources) == 0 {
		return fmt.Errorf("projection %s names no source stream types", def.Name)
	}
	if def.Lifecycle == LifecycleInline && def.Router != nil {
		if def.Router.Subject != nil || def.Router.Lookup != nil || def.Router.Defining != nil {
			return apperrors.New(apperrors.CodeLifecycleNotSupported,
				fmt.Sprintf("inline projection %s may only use direct correlation", def.Name))
		}
	}
	if def.Lifecycle == LifecycleLive && def.Router != nil {
		return apperrors.New(apperrors.CodeLifecycleNotSupported,
			fmt.Sprintf("live projection %s must be single-stream", def.Name))
	}
	e.defs[def.Name] = def
	e.order = append(e.order, def.Name)
	return nil
}

// Definition returns a registered projection.
func (e *Engine) Definition(name string) (Definition, error) {
	def, ok := e.defs[name]
	if !ok {
		return Definition{}, apperrors.New(apperrors.CodeProjectionUnknown,
			fmt.Sprintf("projection %s is not registered", name))
	}
	return def, nil
}

// Names returns registered projection names in registration order.
func (e *Engine) Names() []string {
	names := make([]string, len(e.order))
	copy(names, e.order)
	return names
}

func (e *Engine) definitionsByLifecycle(lifecycle Lifecycle) []Definition {
	var defs []Definition
	for _, name := range e.order {
		if def := e.defs[name]; def.Lifecycle == lifecycle {
			defs = append(defs, def)
		}
	}
	return defs
}

// relevant filters a batch down to the events a definition's sources cover.
func (e *Engine) relevant(def Definition, batch []event.Event) []event.Event {
	var kept []event.Event
	for _, evt := range batch {
		if !def.sourcedFrom(evt.StreamType) {
			continue
		}
		if !def.multiStream() && !def.Folder.Handles(evt.Type) {
			continue
		}
		kept = append(kept, evt)
	}
	return kept
}

// route fills an arena with the slices a batch touches.
func (e *Engine) route(ctx context.Context, def Definition, batch []event.Event, history HistoryFunc) (*Arena, error) {
	arena := NewArena()
	if def.Router == nil {
		for _, evt := range batch {
			arena.Slice(evt.StreamID).Add(evt)
		}
		return arena, nil
	}
	if err := def.Router.Route(ctx, arena, batch, history); err != nil {
		return nil, err
	}
	return arena, nil
}

// foldSlice folds a slice's unapplied events into its record and saves it. It
// reports whether the record changed.
func (e *Engine) foldSlice(ctx context.Context, tx storage.ProjectionTx, def Definition, slice *Slice) (bool, error) {
	record, err := tx.LoadRecord(ctx, def.Name, slice.Key)
	exists := true
	switch {
	case errors.Is(err, storage.ErrNotFound):
		exists = false
		record = storage.ProjectionRecord{Projection: def.Name, Key: slice.Key}
	case err != nil:
		return false, err
	}

	var fresh []event.Event
	for _, evt := range slice.Events() {
		if record.AlreadyApplied(evt) {
			continue
		}
		fresh = append(fresh, evt)
	}
	if len(fresh) == 0 {
		return false, nil
	}

	var view any
	if exists {
		current, err := def.Folder.Decode(record.ViewJSON)
		if err != nil {
			return false, fmt.Errorf("projection %s key %s: %w", def.Name, slice.Key, err)
		}
		view, err = def.Folder.Resume(slice.Key, current, fresh)
		if err != nil {
			return false, fmt.Errorf("projection %s key %s: %w", def.Name, slice.Key, err)
		}
	} else {
		view, err = def.Folder.Fold(slice.Key, fresh)
		if err != nil {
			return false, fmt.Errorf("projection %s key %s: %w", def.Name, slice.Key, err)
		}
	}

	encoded, err := def.Folder.Encode(view)
	if err != nil {
		return false, fmt.Errorf("projection %s key %s: %w", def.Name, slice.Key, err)
	}
	record.ViewJSON = encoded
	for _, evt := range fresh {
		record.MarkApplied(evt)
	}
	if err := tx.SaveRecord(ctx, record); err != nil {
		return false, err
	}
	e.metrics.RecordEventsApplied(ctx, def.Name, len(fresh))
	e.metrics.RecordRecordSaved(ctx, def.Name)
	return true, nil
}

// processBatch reads one batch after the given global sequence, routes it,
// folds the touched slices, and persists records atomically. For async
// projections the checkpoint advances in the same transaction. It returns
// the new cursor position and the records that changed.
func (e *Engine) processBatch(ctx context.Context, def Definition, after uint64, limit int) (uint64, []notify.Notification, error) {
	batch, err := e.store.ReadSince(ctx, after, limit)
	if err != nil {
		return after, nil, fmt.Errorf("read batch for %s: %w", def.Name, err)
	}
	if len(batch) == 0 {
		return after, nil, nil
	}
	last := batch[len(batch)-1].GlobalSeq

	arena, err := e.route(ctx, def, e.relevant(def, batch), e.store.ReadStream)
	if err != nil {
		return after, nil, fmt.Errorf("route batch for %s: %w", def.Name, err)
	}

	var touched []notify.Notification
	err = e.store.WithProjectionTx(ctx, func(ctx context.Context, tx storage.ProjectionTx) error {
		touched = touched[:0]
		for _, key := range arena.Keys() {
			changed, err := e.foldSlice(ctx, tx, def, arena.Slice(key))
			if err != nil {
				return err
			}
			if changed {
				touched = append(touched, notify.Notification{Projection: def.Name, RecordID: key})
			}
		}
		if def.Lifecycle == LifecycleAsync {
			return tx.AdvanceCheckpoint(ctx, def.Name, last)
		}
		return nil
	})
	if err != nil {
		return after, nil, err
	}
	e.metrics.RecordBatchCommitted(ctx, def.Name)
	return last, touched, nil
}

// emit sends change notifications after records are durably persisted.
func (e *Engine) emit(ctx context.Context, notifications []notify.Notification) {
	for _, n := range notifications {
		e.notifier.ProjectionUpdated(ctx, n)
	}
}
