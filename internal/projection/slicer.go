package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/storage"
)

// Slice accumulates the event set one projection record must fold. Events are
// deduplicated by (stream, sequence) identity so the same event discovered
// through different correlation paths is applied once.
type Slice struct {
	Key    string
	events []event.Event
	seen   map[event.ID]struct{}
}

// Add appends the event unless an event with the same identity is already
// present. It reports whether the event was added.
func (s *Slice) Add(evt event.Event) bool {
	if s.seen == nil {
		s.seen = make(map[event.ID]struct{})
	}
	id := evt.Identity()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.events = append(s.events, evt)
	return true
}

// Events returns the accumulated set in ascending global sequence order.
// Cross-stream events interleave, so arrival order is not fold order.
func (s *Slice) Events() []event.Event {
	event.SortByGlobalSeq(s.events)
	return s.events
}

// Arena holds the slices touched by one routing pass, keyed by record key.
// It is a flat accumulator rather than a recursive traversal so memory stays
// bounded by the batch's reachable keys.
type Arena struct {
	slices map[string]*Slice
	order  []string
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{slices: make(map[string]*Slice)}
}

// Slice returns the slice for key, creating it on first use.
func (a *Arena) Slice(key string) *Slice {
	if s, ok := a.slices[key]; ok {
		return s
	}
	s := &Slice{Key: key}
	a.slices[key] = s
	a.order = append(a.order, key)
	return s
}

// Keys returns slice keys in first-touch order, which is deterministic for a
// given batch.
func (a *Arena) Keys() []string {
	return a.order
}

// Len returns the number of touched slices.
func (a *Arena) Len() int {
	return len(a.order)
}

// Membership describes what a defining event establishes: the record keys it
// belongs to and the foreign streams whose full histories the slice needs for
// complete context.
type Membership struct {
	Keys []string
	Refs []string
}

// HistoryFunc reads a stream's full event history.
type HistoryFunc func(ctx context.Context, streamID string) ([]event.Event, error)

// LookupFunc resolves a member event's subject to the record keys currently
// interested in it, usually by consulting a lookup view.
type LookupFunc func(ctx context.Context, subject string) ([]string, error)

// Router maps a batch of events to the slices they affect. All classifier
// funcs are optional; a nil func means the router has no events of that
// shape.
//
// Defining events create slice membership and pull in referenced stream
// histories. Direct events name their keys in their own payload. Member
// events belong to foreign streams and are resolved through Lookup by their
// subject id.
type Router struct {
	Defining func(evt event.Event) (Membership, bool)
	Direct   func(evt event.Event) []string
	Subject  func(evt event.Event) (string, bool)
	Lookup   LookupFunc
}

// Route distributes the batch into the arena.
//
// Defining and direct events are placed first. A defining event pulls the
// entire current history of every stream it references into its slices, so a
// freshly created slice starts with complete context; member events of those
// streams appearing in the same batch are gathered by that pull-in and
// deduplicated when pass two sees them again. Only after all defining events
// are placed are member events resolved through the lookup view. A member
// event whose subject has no interested key is dropped without error; a later
// defining event that references its stream will regather it from history.
func (r *Router) Route(ctx context.Context, arena *Arena, batch []event.Event, history HistoryFunc) error {
	for _, evt := range batch {
		if r.Defining != nil {
			if membership, ok := r.Defining(evt); ok {
				if err := r.placeDefining(ctx, arena, evt, membership, history); err != nil {
					return err
				}
			}
		}
		if r.Direct != nil {
			for _, key := range r.Direct(evt) {
				arena.Slice(key).Add(evt)
			}
		}
	}

	if r.Subject == nil || r.Lookup == nil {
		return nil
	}
	for _, evt := range batch {
		subject, ok := r.Subject(evt)
		if !ok {
			continue
		}
		keys, err := r.Lookup(ctx, subject)
		if err != nil {
			return fmt.Errorf("lookup keys for %s: %w", subject, err)
		}
		for _, key := range keys {
			arena.Slice(key).Add(evt)
		}
	}
	return nil
}

func (r *Router) placeDefining(ctx context.Context, arena *Arena, evt event.Event, membership Membership, history HistoryFunc) error {
	if len(membership.Keys) == 0 {
		return nil
	}
	for _, key := range membership.Keys {
		arena.Slice(key).Add(evt)
	}
	if history == nil {
		return nil
	}
	for _, ref := range membership.Refs {
		events, err := history(ctx, ref)
		if errors.Is(err, storage.ErrStreamNotFound) {
			// Referenced stream may not exist yet; the slice still
			// starts validly with the defining event alone.
			continue
		}
		if err != nil {
			return fmt.Errorf("pull history of %s: %w", ref, err)
		}
		for _, key := range membership.Keys {
			slice := arena.Slice(key)
			for _, pulled := range events {
				slice.Add(pulled)
			}
		}
	}
	return nil
}
