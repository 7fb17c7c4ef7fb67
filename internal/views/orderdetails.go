package views

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/domain/order"
	"github.com/averill/shopstream/internal/projection"
	"github.com/averill/shopstream/internal/storage"
)

// OrderDetailsName identifies the cross-stream order details projection.
const OrderDetailsName = "order-details"

// ItemDetails is the current catalog state of an item referenced by an
// order, kept fresh by item events routed into the order's slice.
type ItemDetails struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Archived   bool   `json:"archived"`
}

// OrderDetailsView joins an order with the live catalog state of its items.
// Line entries keep their placement-time name and price; Items carries the
// current values.
type OrderDetailsView struct {
	Order order.State            `json:"order"`
	Items map[string]ItemDetails `json:"items"`
}

// OrderDetails returns the multi-stream projection correlating order and
// item streams into one record per order.
//
// Order events that reference items are defining: they establish the
// order's interest in those item streams and pull their full histories into
// the slice. Item events are members, resolved to interested orders through
// the item-orders lookup view. An item event whose item no order tracks yet
// is dropped; a later defining event regathers it from the item's history.
func OrderDetails(lookup projection.LookupFunc) projection.Definition {
	transitions := projection.NewTransitions[OrderDetailsView]()

	applyOrder := func(_ string, view OrderDetailsView, evt event.Event) (OrderDetailsView, error) {
		state, err := order.Fold(view.Order, evt)
		if err != nil {
			return view, err
		}
		view.Order = state
		return view, nil
	}
	transitions.Create(event.TypeOrderPlaced, func(key string, evt event.Event) (OrderDetailsView, error) {
		state, err := order.New(evt)
		if err != nil {
			return OrderDetailsView{}, err
		}
		return OrderDetailsView{Order: state, Items: make(map[string]ItemDetails)}, nil
	})
	for _, eventType := range order.FoldHandledTypes() {
		transitions.Apply(eventType, applyOrder)
	}

	// A pulled-in item history can precede the order's own events in global
	// order, so item.registered must also be able to start the view.
	transitions.Create(event.TypeItemRegistered, func(_ string, evt event.Event) (OrderDetailsView, error) {
		view := OrderDetailsView{Items: make(map[string]ItemDetails)}
		return applyItemEvent(view, evt)
	})
	for _, eventType := range []event.Type{
		event.TypeItemRegistered,
		event.TypeItemRenamed,
		event.TypeItemPriceChanged,
		event.TypeItemArchived,
	} {
		transitions.Apply(eventType, func(_ string, view OrderDetailsView, evt event.Event) (OrderDetailsView, error) {
			return applyItemEvent(view, evt)
		})
	}

	return projection.Definition{
		Name:      OrderDetailsName,
		Lifecycle: projection.LifecycleAsync,
		Folder:    transitions.Folder(),
		Sources:   []event.StreamType{event.StreamTypeOrder, event.StreamTypeItem},
		Router: &projection.Router{
			Defining: orderDetailsDefining,
			Direct:   orderDetailsDirect,
			Subject:  orderDetailsSubject,
			Lookup:   lookup,
		},
	}
}

func applyItemEvent(view OrderDetailsView, evt event.Event) (OrderDetailsView, error) {
	if view.Items == nil {
		view.Items = make(map[string]ItemDetails)
	}
	details := view.Items[evt.StreamID]
	details.ItemID = evt.StreamID
	switch evt.Type {
	case event.TypeItemRegistered:
		var payload event.ItemRegisteredPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return view, err
		}
		details.Name = payload.Name
		details.PriceCents = payload.PriceCents
	case event.TypeItemRenamed:
		var payload event.ItemRenamedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return view, err
		}
		details.Name = payload.Name
	case event.TypeItemPriceChanged:
		var payload event.ItemPriceChangedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return view, err
		}
		details.PriceCents = payload.PriceCents
	case event.TypeItemArchived:
		details.Archived = true
	}
	view.Items[evt.StreamID] = details
	return view, nil
}

// orderDetailsDefining classifies order events that establish interest in
// item streams.
func orderDetailsDefining(evt event.Event) (projection.Membership, bool) {
	switch evt.Type {
	case event.TypeOrderPlaced:
		var payload event.OrderPlacedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return projection.Membership{}, false
		}
		refs := make([]string, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			refs = append(refs, line.ItemID)
		}
		return projection.Membership{Keys: []string{evt.StreamID}, Refs: refs}, true
	case event.TypeOrderItemAdded:
		var payload event.OrderItemAddedPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil {
			return projection.Membership{}, false
		}
		return projection.Membership{Keys: []string{evt.StreamID}, Refs: []string{payload.Line.ItemID}}, true
	}
	return projection.Membership{}, false
}

// orderDetailsDirect routes the remaining order events to their own order.
func orderDetailsDirect(evt event.Event) []string {
	switch evt.Type {
	case event.TypeOrderItemRemoved, event.TypeOrderShipped, event.TypeOrderCancelled:
		return []string{evt.StreamID}
	}
	return nil
}

// orderDetailsSubject marks item events as members keyed by their item id.
func orderDetailsSubject(evt event.Event) (string, bool) {
	if evt.StreamType != event.StreamTypeItem {
		return "", false
	}
	return evt.StreamID, true
}

// ItemOrdersResolver builds the lookup func resolving an item id to the
// orders currently tracking it, backed by the item-orders projection.
// Resolution reads the lookup view's state as of routing time; a lagging
// lookup view is the accepted consistency window for async projections.
func ItemOrdersResolver(records storage.ProjectionStore) projection.LookupFunc {
	return func(ctx context.Context, subject string) ([]string, error) {
		record, err := records.LoadRecord(ctx, ItemOrdersName, subject)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		view, err := DecodeItemOrders(record.ViewJSON)
		if err != nil {
			return nil, err
		}
		return view.OrderIDs, nil
	}
}
