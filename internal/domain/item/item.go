// Package item holds the catalog item aggregate: state folded from an item stream.
package item

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/averill/shopstream/internal/domain/event"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
)

// State is the item aggregate, a pure function of the item stream.
type State struct {
	Created       bool      `json:"created"`
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PriceCents    int64     `json:"price_cents"`
	StockOnHand   int       `json:"stock_on_hand"`
	StockReserved int       `json:"stock_reserved"`
	Archived      bool      `json:"archived"`
	RegisteredAt  time.Time `json:"registered_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available is the stock quantity not yet reserved by orders.
func (s State) Available() int {
	return s.StockOnHand - s.StockReserved
}

// FoldHandledTypes lists the event types the item fold understands.
func FoldHandledTypes() []event.Type {
	return []event.Type{
		event.TypeItemRegistered,
		event.TypeItemRenamed,
		event.TypeItemPriceChanged,
		event.TypeItemStockReceived,
		event.TypeItemStockReserved,
		event.TypeItemArchived,
	}
}

// New creates item state from the creation event.
func New(evt event.Event) (State, error) {
	if evt.Type != event.TypeItemRegistered {
		return State{}, apperrors.New(apperrors.CodeMissingInitialEvent,
			fmt.Sprintf("item stream must start with %s, got %s", event.TypeItemRegistered, evt.Type))
	}
	var payload event.ItemRegisteredPayload
	if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
		return State{}, fmt.Errorf("decode item.registered payload: %w", err)
	}
	return State{
		Created:      true,
		ID:           evt.StreamID,
		Name:         payload.Name,
		PriceCents:   payload.PriceCents,
		RegisteredAt: evt.Timestamp,
		UpdatedAt:    evt.Timestamp,
	}, nil
}

// Fold applies one event to item state.
func Fold(state State, evt event.Event) (State, error) {
	switch evt.Type {
	case event.TypeItemRegistered:
		return New(evt)
	case event.TypeItemRenamed:
		var payload event.ItemRenamedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode item.renamed payload: %w", err)
		}
		state.Name = payload.Name
		state.UpdatedAt = evt.Timestamp
	case event.TypeItemPriceChanged:
		var payload event.ItemPriceChangedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode item.price_changed payload: %w", err)
		}
		state.PriceCents = payload.PriceCents
		state.UpdatedAt = evt.Timestamp
	case event.TypeItemStockReceived:
		var payload event.ItemStockReceivedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode item.stock_received payload: %w", err)
		}
		state.StockOnHand += payload.Quantity
		state.UpdatedAt = evt.Timestamp
	case event.TypeItemStockReserved:
		var payload event.ItemStockReservedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return state, fmt.Errorf("decode item.stock_reserved payload: %w", err)
		}
		state.StockReserved += payload.Quantity
		state.UpdatedAt = evt.Timestamp
	case event.TypeItemArchived:
		state.Archived = true
		state.UpdatedAt = evt.Timestamp
	}
	return state, nil
}

// CheckReserve verifies a stock reservation against current state. A failed
// check rejects the command before any event is appended.
func CheckReserve(state State, quantity int) error {
	if !state.Created {
		return apperrors.New(apperrors.CodeMissingInitialEvent, "item does not exist")
	}
	if state.Archived {
		return apperrors.WithMetadata(apperrors.CodeItemArchived, "archived item cannot be reserved",
			map[string]string{"item_id": state.ID})
	}
	if quantity <= 0 {
		return apperrors.New(apperrors.CodeInsufficientStock, "reservation quantity must be positive")
	}
	if available := state.Available(); quantity > available {
		return apperrors.WithMetadata(apperrors.CodeInsufficientStock, "not enough stock available",
			map[string]string{
				"item_id":   state.ID,
				"requested": strconv.Itoa(quantity),
				"available": strconv.Itoa(available),
			})
	}
	return nil
}
