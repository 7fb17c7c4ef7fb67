package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/averill/shopstream/internal/domain/order"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
	"github.com/averill/shopstream/internal/projection"
	"github.com/averill/shopstream/internal/storage/sqlite"
	"github.com/averill/shopstream/internal/views"
)

func newTestApp(t *testing.T) (*App, *projection.Engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "shopstream.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine, err := projection.NewEngine(store)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for _, def := range []projection.Definition{
		views.OrderSummary(),
		views.ItemCatalog(),
		views.ItemOrdersLookup(),
		views.OrderDetails(views.ItemOrdersResolver(store)),
		views.ItemAvailabilityLive(),
	} {
		if err := engine.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
	commands, err := New(engine)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return commands, engine, store
}

func stockItem(t *testing.T, commands *App, itemID, name string, price int64, stock int) {
	t.Helper()
	ctx := context.Background()
	if _, err := commands.RegisterItem(ctx, itemID, name, price); err != nil {
		t.Fatalf("register item: %v", err)
	}
	if err := commands.ReceiveStock(ctx, itemID, stock); err != nil {
		t.Fatalf("receive stock: %v", err)
	}
}

func TestPlaceOrderReservesStockAtomically(t *testing.T) {
	commands, engine, store := newTestApp(t)
	ctx := context.Background()

	stockItem(t, commands, "item-7", "Widget", 499, 10)

	orderID, err := commands.PlaceOrder(ctx, "", "customer-1", []LineRequest{{ItemID: "item-7", Quantity: 4}})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if orderID == "" {
		t.Fatal("expected a generated order id")
	}

	raw, err := engine.Read(ctx, views.ItemAvailabilityName, "item-7")
	if err != nil {
		t.Fatalf("read availability: %v", err)
	}
	var availability views.ItemAvailability
	if err := json.Unmarshal(raw, &availability); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if availability.Available != 6 {
		t.Fatalf("available = %d, want 6 after reservation", availability.Available)
	}

	raw, err = engine.Read(ctx, views.OrderSummaryName, orderID)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary order.State
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalCents() != 4*499 {
		t.Fatalf("total = %d, want %d", summary.TotalCents(), 4*499)
	}

	// Placement copied catalog values into the order line.
	if summary.Lines[0].Name != "Widget" || summary.Lines[0].PriceCents != 499 {
		t.Fatalf("line = %+v, want catalog name and price", summary.Lines[0])
	}

	events, err := store.ReadStream(ctx, "item-7")
	if err != nil {
		t.Fatalf("read item stream: %v", err)
	}
	if got := events[len(events)-1].Type; string(got) != "item.stock_reserved" {
		t.Fatalf("last item event = %s, want item.stock_reserved", got)
	}
}

func TestPlaceOrderInsufficientStockRejectsWholeCommand(t *testing.T) {
	commands, _, store := newTestApp(t)
	ctx := context.Background()

	stockItem(t, commands, "item-7", "Widget", 499, 10)
	stockItem(t, commands, "item-9", "Gadget", 1299, 1)

	_, err := commands.PlaceOrder(ctx, "order-1", "customer-1", []LineRequest{
		{ItemID: "item-7", Quantity: 2},
		{ItemID: "item-9", Quantity: 5},
	})
	if apperrors.GetCode(err) != apperrors.CodeInsufficientStock {
		t.Fatalf("err = %v, want insufficient stock", err)
	}

	// Nothing was appended: the order stream does not exist and no stock
	// was reserved on the first item.
	if _, _, err := store.StreamInfo(ctx, "order-1"); err == nil {
		t.Fatal("order stream must not exist after a rejected command")
	}
	events, err := store.ReadStream(ctx, "item-7")
	if err != nil {
		t.Fatalf("read item stream: %v", err)
	}
	for _, evt := range events {
		if string(evt.Type) == "item.stock_reserved" {
			t.Fatal("rejected command must not reserve stock")
		}
	}
}

func TestAddItemOnClosedOrderRejected(t *testing.T) {
	commands, _, _ := newTestApp(t)
	ctx := context.Background()

	stockItem(t, commands, "item-7", "Widget", 499, 10)
	orderID, err := commands.PlaceOrder(ctx, "", "", []LineRequest{{ItemID: "item-7", Quantity: 1}})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if err := commands.ShipOrder(ctx, orderID, "fastpost"); err != nil {
		t.Fatalf("ship order: %v", err)
	}

	err = commands.AddItem(ctx, orderID, "item-7", 1)
	if apperrors.GetCode(err) != apperrors.CodeOrderClosed {
		t.Fatalf("err = %v, want order closed", err)
	}
}

func TestArchivedItemRejectsChanges(t *testing.T) {
	commands, _, _ := newTestApp(t)
	ctx := context.Background()

	stockItem(t, commands, "item-7", "Widget", 499, 10)
	if err := commands.ArchiveItem(ctx, "item-7", "discontinued"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	err := commands.RenameItem(ctx, "item-7", "Widget Pro")
	if apperrors.GetCode(err) != apperrors.CodeItemArchived {
		t.Fatalf("rename err = %v, want item archived", err)
	}

	_, err = commands.PlaceOrder(ctx, "", "", []LineRequest{{ItemID: "item-7", Quantity: 1}})
	if apperrors.GetCode(err) != apperrors.CodeItemArchived {
		t.Fatalf("place err = %v, want item archived", err)
	}
}

func TestCancelOrderTwiceRejected(t *testing.T) {
	commands, _, _ := newTestApp(t)
	ctx := context.Background()

	stockItem(t, commands, "item-7", "Widget", 499, 10)
	orderID, err := commands.PlaceOrder(ctx, "", "", []LineRequest{{ItemID: "item-7", Quantity: 1}})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if err := commands.CancelOrder(ctx, orderID, "changed mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err = commands.CancelOrder(ctx, orderID, "again")
	if apperrors.GetCode(err) != apperrors.CodeOrderClosed {
		t.Fatalf("err = %v, want order closed", err)
	}
}

func TestRemoveItemUpdatesSummary(t *testing.T) {
	commands, engine, _ := newTestApp(t)
	ctx := context.Background()

	stockItem(t, commands, "item-7", "Widget", 499, 10)
	orderID, err := commands.PlaceOrder(ctx, "", "", []LineRequest{{ItemID: "item-7", Quantity: 2}})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if err := commands.RemoveItem(ctx, orderID, "item-7"); err != nil {
		t.Fatalf("remove item: %v", err)
	}

	raw, err := engine.Read(ctx, views.OrderSummaryName, orderID)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary order.State
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.Lines) != 0 {
		t.Fatalf("lines = %d, want 0 after removal", len(summary.Lines))
	}
}
