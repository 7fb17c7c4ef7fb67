// Package order holds the order aggregate: state folded from an order stream.
package order

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/averill/shopstream/internal/domain/event"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
)

// Status is the order lifecycle status.
type Status string

// Order statuses.
const (
	StatusPlaced    Status = "placed"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

// Line is one item position on an order.
type Line struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

// State is the order aggregate, a pure function of the order stream.
type State struct {
	Created    bool      `json:"created"`
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id,omitempty"`
	Status     Status    `json:"status"`
	Lines      []Line    `json:"lines"`
	PlacedAt   time.Time `json:"placed_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Closed reports whether the order no longer accepts changes.
func (s State) Closed() bool {
	return s.Status == StatusShipped || s.Status == StatusCancelled
}

// TotalQuantity sums line quantities.
func (s State) TotalQuantity() int {
	total := 0
	for _, line := range s.Lines {
		total += line.Quantity
	}
	return total
}

// TotalCents sums line prices weighted by quantity.
func (s State) TotalCents() int64 {
	var total int64
	for _, line := range s.Lines {
		total += line.PriceCents * int64(line.Quantity)
	}
	return total
}

// ItemIDs returns the distinct item ids currently on the order.
func (s State) ItemIDs() []string {
	ids := make([]string, 0, len(s.Lines))
	seen := make(map[string]struct{}, len(s.Lines))
	for _, line := range s.Lines {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	return ids
}

// FoldHandledTypes lists the event types the order fold understands.
func FoldHandledTypes() []event.Type {
	return []event.Type{
		event.TypeOrderPlaced,
		event.TypeOrderItemAdded,
		event.TypeOrderItemRemoved,
		event.TypeOrderShipped,
		event.TypeOrderCancelled,
	}
}

// New creates order state from the creation event.
func New(evt event.Event) (State, error) {
	if evt.Type != event.TypeOrderPlaced {
		return State{}, apperrors.New(apperrors.CodeMissingInitialEvent,
			fmt.Sprintf("order stream must start with %s, got %s", event.TypeOrderPlaced, evt.Type))
	}
	var payload event.OrderPlacedPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return State{}, fmt.Errorf("decode order.placed payload: %w", err)
	}
	lines := make([]Line, 0, len(payload.Lines))
	for _, pl := range payload.Lines {
		lines = append(lines, Line{
			ItemID:     pl.ItemID,
			Name:       pl.Name,
			Quantity:   pl.Quantity,
			PriceCents: pl.PriceCents,
		})
	}
	return State{
		Created:    true,
		ID:         evt.StreamID,
		CustomerID: payload.CustomerID,
		Status:     StatusPlaced,
		Lines:      lines,
		PlacedAt:   evt.Timestamp,
		UpdatedAt:  evt.Timestamp,
	}, nil
}

// Fold applies one event to order state.
func Fold(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case event.TypeOrderPlaced:
		return New(evt)
	case event.TypeOrderItemAdded:
		var payload event.OrderItemAddedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode order.item_added payload: %w", err)
		}
		state.Lines = append(state.Lines, Line{
			ItemID:     payload.Line.ItemID,
			Name:       payload.Line.Name,
			Quantity:   payload.Line.Quantity,
			PriceCents: payload.Line.PriceCents,
		})
		state.UpdatedAt = evt.Timestamp
	case event.TypeOrderItemRemoved:
		var payload event.OrderItemRemovedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode order.item_removed payload: %w", err)
		}
		kept := state.Lines[:0]
		for _, line := range state.Lines {
			if line.ItemID != payload.ItemID {
				kept = append(kept, line)
			}
		}
		state.Lines = kept
		state.UpdatedAt = evt.Timestamp
	case event.TypeOrderShipped:
		state.Status = StatusShipped
		state.UpdatedAt = evt.Timestamp
	case event.TypeOrderCancelled:
		state.Status = StatusCancelled
		state.UpdatedAt = evt.Timestamp
	}
	return state, nil
}

// CheckOpen rejects mutations on shipped or cancelled orders.
func CheckOpen(state State) error {
	if !state.Created {
		return apperrors.New(apperrors.CodeMissingInitialEvent, "order does not exist")
	}
	if state.Closed() {
		return apperrors.WithMetadata(apperrors.CodeOrderClosed, "order no longer accepts changes",
			map[string]string{"order_id": state.ID, "status": string(state.Status)})
	}
	return nil
}
