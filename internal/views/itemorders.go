package views

import (
	"encoding/json"
	"fmt"

	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/projection"
)

// ItemOrdersName identifies the item-to-orders lookup view.
const ItemOrdersName = "item-orders"

// ItemOrders is the reverse index answering "which orders currently contain
// this item". The order-details projection consults it to resolve item
// events to the order slices interested in them.
type ItemOrders struct {
	ItemID   string   `json:"item_id"`
	OrderIDs []string `json:"order_ids"`
}

func (v ItemOrders) with(orderID string) ItemOrders {
	for _, id := range v.OrderIDs {
		if id == orderID {
			return v
		}
	}
	v.OrderIDs = append(v.OrderIDs, orderID)
	return v
}

func (v ItemOrders) without(orderID string) ItemOrders {
	kept := make([]string, 0, len(v.OrderIDs))
	for _, id := range v.OrderIDs {
		if id != orderID {
			kept = append(kept, id)
		}
	}
	v.OrderIDs = kept
	return v
}

// ItemOrdersLookup returns the lookup projection, keyed by item id and fed
// by order events through direct correlation: each order event names the
// items it touches in its own payload.
func ItemOrdersLookup() projection.Definition {
	transitions := projection.NewTransitions[ItemOrders]()

	addOrder := func(key string, view ItemOrders, evt event.Event) (ItemOrders, error) {
		view.ItemID = key
		return view.with(evt.StreamID), nil
	}
	transitions.Create(event.TypeOrderPlaced, func(key string, evt event.Event) (ItemOrders, error) {
		return addOrder(key, ItemOrders{}, evt)
	})
	transitions.Apply(event.TypeOrderPlaced, addOrder)
	transitions.Create(event.TypeOrderItemAdded, func(key string, evt event.Event) (ItemOrders, error) {
		return addOrder(key, ItemOrders{}, evt)
	})
	transitions.Apply(event.TypeOrderItemAdded, addOrder)
	transitions.Create(event.TypeOrderItemRemoved, func(key string, _ event.Event) (ItemOrders, error) {
		return ItemOrders{ItemID: key}, nil
	})
	transitions.Apply(event.TypeOrderItemRemoved, func(key string, view ItemOrders, evt event.Event) (ItemOrders, error) {
		view.ItemID = key
		return view.without(evt.StreamID), nil
	})

	return projection.Definition{
		Name:      ItemOrdersName,
		Lifecycle: projection.LifecycleAsync,
		Folder:    transitions.Folder(),
		Sources:   []event.StreamType{event.StreamTypeOrder},
		Router: &projection.Router{
			Direct: itemOrdersKeys,
		},
	}
}

// itemOrdersKeys extracts the item ids an order event touches.
func itemOrdersKeys(evt event.Event) []string {
	switch evt.Type {
	case event.TypeOrderPlaced:
		var payload event.OrderPlacedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return nil
		}
		keys := make([]string, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			keys = append(keys, line.ItemID)
		}
		return keys
	case event.TypeOrderItemAdded:
		var payload event.OrderItemAddedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return nil
		}
		return []string{payload.Line.ItemID}
	case event.TypeOrderItemRemoved:
		var payload event.OrderItemRemovedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return nil
		}
		return []string{payload.ItemID}
	}
	return nil
}

// DecodeItemOrders restores a lookup record's view.
func DecodeItemOrders(raw json.RawMessage) (ItemOrders, error) {
	var view ItemOrders
	if err := json.Unmarshal(raw, &view); err != nil {
		return ItemOrders{}, fmt.Errorf("decode item-orders view: %w", err)
	}
	return view, nil
}
