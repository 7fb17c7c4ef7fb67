// Package app implements the shop's write-side commands over the projection
// engine: each command fetches current state, checks business rules, and
// appends events atomically across the streams it touches.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/domain/item"
	"github.com/averill/shopstream/internal/domain/order"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
	"github.com/averill/shopstream/internal/projection"
	"github.com/averill/shopstream/internal/storage"
)

// App executes commands against the event log through the engine's write
// path, so inline projections stay transactional with every append.
type App struct {
	engine *projection.Engine
}

// New creates the command layer.
func New(engine *projection.Engine) (*App, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	return &App{engine: engine}, nil
}

// LineRequest asks for a quantity of one item when placing or extending an
// order.
type LineRequest struct {
	ItemID   string
	Quantity int
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func foldItemState(events []event.Event) (item.State, error) {
	var state item.State
	for i, evt := range events {
		if i == 0 {
			created, err := item.New(evt)
			if err != nil {
				return item.State{}, err
			}
			state = created
			continue
		}
		next, err := item.Fold(state, evt)
		if err != nil {
			return item.State{}, err
		}
		state = next
	}
	if !state.Created {
		return item.State{}, apperrors.New(apperrors.CodeMissingInitialEvent, "item does not exist")
	}
	return state, nil
}

func foldOrderState(events []event.Event) (order.State, error) {
	var state order.State
	for i, evt := range events {
		if i == 0 {
			created, err := order.New(evt)
			if err != nil {
				return order.State{}, err
			}
			state = created
			continue
		}
		next, err := order.Fold(state, evt)
		if err != nil {
			return order.State{}, err
		}
		state = next
	}
	if !state.Created {
		return order.State{}, apperrors.New(apperrors.CodeMissingInitialEvent, "order does not exist")
	}
	return state, nil
}

// RegisterItem starts an item stream. An empty id gets a generated one; the
// assigned id is returned.
func (a *App) RegisterItem(ctx context.Context, itemID, name string, priceCents int64) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("item name is required")
	}
	if priceCents < 0 {
		return "", fmt.Errorf("item price must not be negative")
	}
	if strings.TrimSpace(itemID) == "" {
		itemID = newID("item")
	}
	evt, err := event.New(event.TypeItemRegistered, event.ItemRegisteredPayload{
		ItemID:     itemID,
		Name:       name,
		PriceCents: priceCents,
	})
	if err != nil {
		return "", err
	}
	if _, err := a.engine.StartStream(ctx, event.StreamTypeItem, itemID, evt); err != nil {
		return "", err
	}
	return itemID, nil
}

// mutateItem runs an item command under the optimistic guard: fetch, check,
// append.
func (a *App) mutateItem(ctx context.Context, itemID string, decide func(state item.State) (event.Event, error)) error {
	session, err := a.engine.FetchForWriting(ctx, itemID)
	if err != nil {
		return err
	}
	state, err := foldItemState(session.History)
	if err != nil {
		return err
	}
	evt, err := decide(state)
	if err != nil {
		return err
	}
	_, err = session.Append(ctx, evt)
	return err
}

func checkItemActive(state item.State) error {
	if state.Archived {
		return apperrors.WithMetadata(apperrors.CodeItemArchived, "archived item no longer accepts changes",
			map[string]string{"item_id": state.ID})
	}
	return nil
}

// RenameItem changes an item's display name.
func (a *App) RenameItem(ctx context.Context, itemID, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("item name is required")
	}
	return a.mutateItem(ctx, itemID, func(state item.State) (event.Event, error) {
		if err := checkItemActive(state); err != nil {
			return event.Event{}, err
		}
		return event.New(event.TypeItemRenamed, event.ItemRenamedPayload{Name: name})
	})
}

// ChangePrice sets an item's price.
func (a *App) ChangePrice(ctx context.Context, itemID string, priceCents int64) error {
	if priceCents < 0 {
		return fmt.Errorf("item price must not be negative")
	}
	return a.mutateItem(ctx, itemID, func(state item.State) (event.Event, error) {
		if err := checkItemActive(state); err != nil {
			return event.Event{}, err
		}
		return event.New(event.TypeItemPriceChanged, event.ItemPriceChangedPayload{PriceCents: priceCents})
	})
}

// ReceiveStock adds delivered stock to an item.
func (a *App) ReceiveStock(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("received quantity must be positive")
	}
	return a.mutateItem(ctx, itemID, func(state item.State) (event.Event, error) {
		if err := checkItemActive(state); err != nil {
			return event.Event{}, err
		}
		return event.New(event.TypeItemStockReceived, event.ItemStockReceivedPayload{Quantity: quantity})
	})
}

// ArchiveItem retires an item from the catalog.
func (a *App) ArchiveItem(ctx context.Context, itemID, reason string) error {
	return a.mutateItem(ctx, itemID, func(state item.State) (event.Event, error) {
		if err := checkItemActive(state); err != nil {
			return event.Event{}, err
		}
		return event.New(event.TypeItemArchived, event.ItemArchivedPayload{Reason: reason})
	})
}

// PlaceOrder starts an order stream and reserves stock for every requested
// line in the same atomic write. Any failed stock check rejects the whole
// command before events are appended; any concurrent stock movement between
// fetch and append fails the write.
func (a *App) PlaceOrder(ctx context.Context, orderID, customerID string, requests []LineRequest) (string, error) {
	if len(requests) == 0 {
		return "", fmt.Errorf("order needs at least one line")
	}
	if strings.TrimSpace(orderID) == "" {
		orderID = newID("order")
	}

	lines := make([]event.OrderLine, 0, len(requests))
	appends := make([]storage.StreamAppend, 0, len(requests)+1)
	for _, request := range requests {
		session, err := a.engine.FetchForWriting(ctx, request.ItemID)
		if err != nil {
			return "", err
		}
		state, err := foldItemState(session.History)
		if err != nil {
			return "", err
		}
		if err := item.CheckReserve(state, request.Quantity); err != nil {
			return "", err
		}
		lines = append(lines, event.OrderLine{
			ItemID:     state.ID,
			Name:       state.Name,
			Quantity:   request.Quantity,
			PriceCents: state.PriceCents,
		})
		reserved, err := event.New(event.TypeItemStockReserved, event.ItemStockReservedPayload{
			OrderID:  orderID,
			Quantity: request.Quantity,
		})
		if err != nil {
			return "", err
		}
		appends = append(appends, session.GuardedAppend(reserved))
	}

	placed, err := event.New(event.TypeOrderPlaced, event.OrderPlacedPayload{
		OrderID:    orderID,
		CustomerID: customerID,
		Lines:      lines,
	})
	if err != nil {
		return "", err
	}
	appends = append([]storage.StreamAppend{{
		StreamID:   orderID,
		StreamType: event.StreamTypeOrder,
		Create:     true,
		Events:     []event.Event{placed},
	}}, appends...)

	if _, err := a.engine.Append(ctx, appends); err != nil {
		return "", err
	}
	return orderID, nil
}

// AddItem puts another line on an open order, reserving its stock
// atomically with the order event.
func (a *App) AddItem(ctx context.Context, orderID, itemID string, quantity int) error {
	orderSession, err := a.engine.FetchForWriting(ctx, orderID)
	if err != nil {
		return err
	}
	orderState, err := foldOrderState(orderSession.History)
	if err != nil {
		return err
	}
	if err := order.CheckOpen(orderState); err != nil {
		return err
	}

	itemSession, err := a.engine.FetchForWriting(ctx, itemID)
	if err != nil {
		return err
	}
	itemState, err := foldItemState(itemSession.History)
	if err != nil {
		return err
	}
	if err := item.CheckReserve(itemState, quantity); err != nil {
		return err
	}

	added, err := event.New(event.TypeOrderItemAdded, event.OrderItemAddedPayload{
		Line: event.OrderLine{
			ItemID:     itemState.ID,
			Name:       itemState.Name,
			Quantity:   quantity,
			PriceCents: itemState.PriceCents,
		},
	})
	if err != nil {
		return err
	}
	reserved, err := event.New(event.TypeItemStockReserved, event.ItemStockReservedPayload{
		OrderID:  orderID,
		Quantity: quantity,
	})
	if err != nil {
		return err
	}

	_, err = a.engine.Append(ctx, []storage.StreamAppend{
		orderSession.GuardedAppend(added),
		itemSession.GuardedAppend(reserved),
	})
	return err
}

// RemoveItem drops an item from an open order.
func (a *App) RemoveItem(ctx context.Context, orderID, itemID string) error {
	return a.mutateOrder(ctx, orderID, func(state order.State) (event.Event, error) {
		return event.New(event.TypeOrderItemRemoved, event.OrderItemRemovedPayload{ItemID: itemID})
	})
}

// ShipOrder marks an open order shipped.
func (a *App) ShipOrder(ctx context.Context, orderID, carrier string) error {
	return a.mutateOrder(ctx, orderID, func(order.State) (event.Event, error) {
		return event.New(event.TypeOrderShipped, event.OrderShippedPayload{Carrier: carrier})
	})
}

// CancelOrder cancels an open order.
func (a *App) CancelOrder(ctx context.Context, orderID, reason string) error {
	return a.mutateOrder(ctx, orderID, func(order.State) (event.Event, error) {
		return event.New(event.TypeOrderCancelled, event.OrderCancelledPayload{Reason: reason})
	})
}

func (a *App) mutateOrder(ctx context.Context, orderID string, decide func(state order.State) (event.Event, error)) error {
	session, err := a.engine.FetchForWriting(ctx, orderID)
	if err != nil {
		return err
	}
	state, err := foldOrderState(session.History)
	if err != nil {
		return err
	}
	if err := order.CheckOpen(state); err != nil {
		return err
	}
	evt, err := decide(state)
	if err != nil {
		return err
	}
	_, err = session.Append(ctx, evt)
	return err
}
