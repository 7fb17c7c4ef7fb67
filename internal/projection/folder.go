package projection

import (
	"encoding/json"
	"fmt"

	"github.com/averill/shopstream/internal/domain/event"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
)

// Folder reduces an ordered event sequence into a view through a transition
// table. Each recognized event type has a create transition, an apply
// transition, or both; unrecognized types are skipped so old projections
// tolerate new event kinds.
//
// Folding is pure: the same event prefix always yields the same view, which
// is what makes replay, rebuild, and live reads safe.
type Folder struct {
	creates map[event.Type]func(key string, evt event.Event) (any, error)
	applies map[event.Type]func(key string, view any, evt event.Event) (any, error)
	decode  func(raw json.RawMessage) (any, error)
	encode  func(view any) (json.RawMessage, error)
}

// Transitions builds a Folder for a concrete view type. The key passed to
// every transition is the projection record key the view belongs to, which
// multi-key routing needs to tell apart fan-out targets of one event.
type Transitions[T any] struct {
	creates map[event.Type]func(key string, evt event.Event) (T, error)
	applies map[event.Type]func(key string, view T, evt event.Event) (T, error)
}

// NewTransitions returns an empty transition table for view type T.
func NewTransitions[T any]() *Transitions[T] {
	return &Transitions[T]{
		creates: make(map[event.Type]func(string, event.Event) (T, error)),
		applies: make(map[event.Type]func(string, T, event.Event) (T, error)),
	}
}

// Create registers the transition producing a fresh view from an initial
// event of the given type.
func (t *Transitions[T]) Create(eventType event.Type, fn func(key string, evt event.Event) (T, error)) *Transitions[T] {
	t.creates[eventType] = fn
	return t
}

// Apply registers the transition advancing an existing view by one event of
// the given type.
func (t *Transitions[T]) Apply(eventType event.Type, fn func(key string, view T, evt event.Event) (T, error)) *Transitions[T] {
	t.applies[eventType] = fn
	return t
}

// Folder seals the table into a type-erased Folder with a JSON view codec.
func (t *Transitions[T]) Folder() *Folder {
	f := &Folder{
		creates: make(map[event.Type]func(string, event.Event) (any, error), len(t.creates)),
		applies: make(map[event.Type]func(string, any, event.Event) (any, error), len(t.applies)),
		decode: func(raw json.RawMessage) (any, error) {
			var view T
			if err := json.Unmarshal(raw, &view); err != nil {
				return nil, fmt.Errorf("decode view: %w", err)
			}
			return view, nil
		},
		encode: func(view any) (json.RawMessage, error) {
			raw, err := json.Marshal(view)
			if err != nil {
				return nil, fmt.Errorf("encode view: %w", err)
			}
			return raw, nil
		},
	}
	for eventType, create := range t.creates {
		create := create
		f.creates[eventType] = func(key string, evt event.Event) (any, error) {
			return create(key, evt)
		}
	}
	for eventType, apply := range t.applies {
		apply := apply
		f.applies[eventType] = func(key string, view any, evt event.Event) (any, error) {
			typed, ok := view.(T)
			if !ok {
				return nil, fmt.Errorf("view for %s has unexpected type %T", evt.Type, view)
			}
			return apply(key, typed, evt)
		}
	}
	return f
}

// Handles reports whether the folder has any transition for the event type.
func (f *Folder) Handles(eventType event.Type) bool {
	if _, ok := f.creates[eventType]; ok {
		return true
	}
	_, ok := f.applies[eventType]
	return ok
}

// Creates reports whether the event type starts a view.
func (f *Folder) Creates(eventType event.Type) bool {
	_, ok := f.creates[eventType]
	return ok
}

// Fold reduces a full event sequence into a view. The first recognized event
// must have a create transition; a recognized apply-only event before any
// creation fails with a missing initial event error.
func (f *Folder) Fold(key string, events []event.Event) (any, error) {
	var view any
	started := false
	for _, evt := range events {
		if !started {
			if create, ok := f.creates[evt.Type]; ok {
				next, err := create(key, evt)
				if err != nil {
					return nil, fmt.Errorf("create from %s at %s/%d: %w", evt.Type, evt.StreamID, evt.Seq, err)
				}
				view = next
				started = true
				continue
			}
			if _, ok := f.applies[evt.Type]; ok {
				return nil, apperrors.New(apperrors.CodeMissingInitialEvent,
					fmt.Sprintf("fold saw %s at %s/%d before any creation event", evt.Type, evt.StreamID, evt.Seq))
			}
			continue
		}
		next, err := f.applyOne(key, view, evt)
		if err != nil {
			return nil, err
		}
		view = next
	}
	if !started {
		return nil, apperrors.New(apperrors.CodeMissingInitialEvent, "fold saw no creation event")
	}
	return view, nil
}

// Resume advances an already-folded view by further events.
func (f *Folder) Resume(key string, view any, events []event.Event) (any, error) {
	for _, evt := range events {
		next, err := f.applyOne(key, view, evt)
		if err != nil {
			return nil, err
		}
		view = next
	}
	return view, nil
}

func (f *Folder) applyOne(key string, view any, evt event.Event) (any, error) {
	apply, ok := f.applies[evt.Type]
	if !ok {
		return view, nil
	}
	next, err := apply(key, view, evt)
	if err != nil {
		return nil, fmt.Errorf("apply %s at %s/%d: %w", evt.Type, evt.StreamID, evt.Seq, err)
	}
	return next, nil
}

// Decode restores a view from its stored JSON form.
func (f *Folder) Decode(raw json.RawMessage) (any, error) {
	return f.decode(raw)
}

// Encode renders a view into its stored JSON form.
func (f *Folder) Encode(view any) (json.RawMessage, error) {
	return f.encode(view)
}
