// Package changelog derives append-only field-level change entries from item
// events. Unlike a snapshot fold, applying an event never overwrites prior
// state; each event contributes zero or more FieldChange entries, and the
// current value of a field is computed lazily by scanning from the newest
// entry backward. Reads cost O(n) in the changelog length; the trade is a
// complete audit trail.
package changelog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/averill/shopstream/internal/domain/event"
)

// Field names tracked by the item changelog.
const (
	FieldName          = "name"
	FieldPriceCents    = "price_cents"
	FieldStockOnHand   = "stock_on_hand"
	FieldStockReserved = "stock_reserved"
	FieldArchived      = "archived"
)

// FieldChange records one field transition.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Entry is one changelog record derived from a single event.
type Entry struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType event.Type    `json:"event_type"`
	Changes   []FieldChange `json:"changes"`
}

// Log is the ordered, append-only change history for one item.
type Log struct {
	ItemID  string  `json:"item_id"`
	Entries []Entry `json:"entries"`
}

// CurrentValue scans entries newest to oldest and returns the NewValue of the
// first entry touching field. The second return is false if no entry ever set
// the field.
func (l Log) CurrentValue(field string) (string, bool) {
	for i := len(l.Entries) - 1; i >= 0; i-- {
		for _, change := range l.Entries[i].Changes {
			if change.Field == field {
				return change.NewValue, true
			}
		}
	}
	return "", false
}

func (l Log) currentOr(field, fallback string) string {
	if value, ok := l.CurrentValue(field); ok {
		return value
	}
	return fallback
}

func (l Log) currentInt(field string) int64 {
	value, ok := l.CurrentValue(field)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// New starts a changelog from the item creation event.
func New(evt event.Event) (Log, error) {
	log := Log{ItemID: evt.StreamID}
	return Apply(log, evt)
}

// Apply derives the changes an event makes and appends them as one entry.
// Events that change nothing append no entry. Apply never modifies existing
// entries, so the log is a faithful audit trail of the stream.
func Apply(log Log, evt event.Event) (Log, error) {
	var changes []FieldChange

	switch evt.Type {
	case event.TypeItemRegistered:
		var payload event.ItemRegisteredPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return log, fmt.Errorf("decode item.registered payload: %w", err)
		}
		if log.ItemID == "" {
			log.ItemID = evt.StreamID
		}
		changes = append(changes,
			FieldChange{Field: FieldName, OldValue: log.currentOr(FieldName, ""), NewValue: payload.Name},
			FieldChange{Field: FieldPriceCents, OldValue: log.currentOr(FieldPriceCents, ""), NewValue: strconv.FormatInt(payload.PriceCents, 10)},
		)
	case event.TypeItemRenamed:
		var payload event.ItemRenamedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return log, fmt.Errorf("decode item.renamed payload: %w", err)
		}
		old := log.currentOr(FieldName, "")
		if payload.Name == old {
			return log, nil
		}
		changes = append(changes, FieldChange{Field: FieldName, OldValue: old, NewValue: payload.Name})
	case event.TypeItemPriceChanged:
		var payload event.ItemPriceChangedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return log, fmt.Errorf("decode item.price_changed payload: %w", err)
		}
		next := strconv.FormatInt(payload.PriceCents, 10)
		old := log.currentOr(FieldPriceCents, "")
		if next == old {
			return log, nil
		}
		changes = append(changes, FieldChange{Field: FieldPriceCents, OldValue: old, NewValue: next})
	case event.TypeItemStockReceived:
		var payload event.ItemStockReceivedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return log, fmt.Errorf("decode item.stock_received payload: %w", err)
		}
		old := log.currentInt(FieldStockOnHand)
		changes = append(changes, FieldChange{
			Field:    FieldStockOnHand,
			OldValue: strconv.FormatInt(old, 10),
			NewValue: strconv.FormatInt(old+int64(payload.Quantity), 10),
		})
	case event.TypeItemStockReserved:
		var payload event.ItemStockReservedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return log, fmt.Errorf("decode item.stock_reserved payload: %w", err)
		}
		old := log.currentInt(FieldStockReserved)
		changes = append(changes, FieldChange{
			Field:    FieldStockReserved,
			OldValue: strconv.FormatInt(old, 10),
			NewValue: strconv.FormatInt(old+int64(payload.Quantity), 10),
		})
	case event.TypeItemArchived:
		old := log.currentOr(FieldArchived, "false")
		if old == "true" {
			return log, nil
		}
		changes = append(changes, FieldChange{Field: FieldArchived, OldValue: old, NewValue: "true"})
	default:
		return log, nil
	}

	log.Entries = append(log.Entries, Entry{
		Timestamp: evt.Timestamp,
		EventType: evt.Type,
		Changes:   changes,
	})
	return log, nil
}
