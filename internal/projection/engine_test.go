package projection_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/domain/order"
	"github.com/averill/shopstream/internal/notify"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
	"github.com/averill/shopstream/internal/projection"
	"github.com/averill/shopstream/internal/storage"
	"github.com/averill/shopstream/internal/storage/sqlite"
	"github.com/averill/shopstream/internal/views"
)

func newTestEngine(t *testing.T, opts ...projection.EngineOption) (*projection.Engine, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "shopstream.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine, err := projection.NewEngine(store, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for _, def := range []projection.Definition{
		views.OrderSummary(),
		views.ItemCatalog(),
		views.ItemOrdersLookup(),
		views.OrderDetails(views.ItemOrdersResolver(store)),
		views.ItemHistory(),
		views.ItemAvailabilityLive(),
	} {
		if err := engine.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Name, err)
		}
	}
	return engine, store
}

func newEvent(t *testing.T, eventType event.Type, payload any) event.Event {
	t.Helper()
	evt, err := event.New(eventType, payload)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return evt
}

func registerItem(t *testing.T, engine *projection.Engine, itemID, name string, price int64) {
	t.Helper()
	_, err := engine.StartStream(context.Background(), event.StreamTypeItem, itemID,
		newEvent(t, event.TypeItemRegistered, event.ItemRegisteredPayload{ItemID: itemID, Name: name, PriceCents: price}))
	if err != nil {
		t.Fatalf("register item %s: %v", itemID, err)
	}
}

func placeOrder(t *testing.T, engine *projection.Engine, orderID string, lines ...event.OrderLine) {
	t.Helper()
	_, err := engine.StartStream(context.Background(), event.StreamTypeOrder, orderID,
		newEvent(t, event.TypeOrderPlaced, event.OrderPlacedPayload{OrderID: orderID, Lines: lines}))
	if err != nil {
		t.Fatalf("place order %s: %v", orderID, err)
	}
}

func decodeOrderState(t *testing.T, raw json.RawMessage) order.State {
	t.Helper()
	var state order.State
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode order state: %v", err)
	}
	return state
}

func TestInlineSummaryFoldsWithAppend(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	placeOrder(t, engine, "order-1", event.OrderLine{ItemID: "item-7", Name: "Widget", Quantity: 2, PriceCents: 499})

	raw, err := engine.Read(ctx, views.OrderSummaryName, "order-1")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	state := decodeOrderState(t, raw)
	if state.TotalQuantity() != 2 || state.Status != order.StatusPlaced {
		t.Fatalf("summary = %+v, want 2 units placed", state)
	}

	if _, err := engine.AppendToStream(ctx, event.StreamTypeOrder, "order-1",
		newEvent(t, event.TypeOrderItemRemoved, event.OrderItemRemovedPayload{ItemID: "item-7"})); err != nil {
		t.Fatalf("remove item: %v", err)
	}

	raw, err = engine.Read(ctx, views.OrderSummaryName, "order-1")
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if state := decodeOrderState(t, raw); len(state.Lines) != 0 {
		t.Fatalf("lines = %d, want 0 after removal", len(state.Lines))
	}
}

func TestInlineFoldFailureAbortsWrite(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	foldErr := errors.New("summary rejected")
	transitions := projection.NewTransitions[struct{}]()
	transitions.Create(event.TypeOrderPlaced, func(string, event.Event) (struct{}, error) {
		return struct{}{}, foldErr
	})
	if err := engine.Register(projection.Definition{
		Name:      "poison",
		Lifecycle: projection.LifecycleInline,
		Folder:    transitions.Folder(),
		Sources:   []event.StreamType{event.StreamTypeOrder},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := engine.StartStream(ctx, event.StreamTypeOrder, "order-1",
		newEvent(t, event.TypeOrderPlaced, event.OrderPlacedPayload{OrderID: "order-1"}))
	if !errors.Is(err, foldErr) {
		t.Fatalf("err = %v, want inline fold failure", err)
	}

	if _, _, err := store.StreamInfo(ctx, "order-1"); !errors.Is(err, storage.ErrStreamNotFound) {
		t.Fatalf("stream err = %v, want ErrStreamNotFound (write aborted)", err)
	}
}

func TestInlineRejectsIndirectCorrelation(t *testing.T) {
	engine, _ := newTestEngine(t)

	transitions := projection.NewTransitions[struct{}]()
	transitions.Create(event.TypeOrderPlaced, func(string, event.Event) (struct{}, error) {
		return struct{}{}, nil
	})
	err := engine.Register(projection.Definition{
		Name:      "inline-indirect",
		Lifecycle: projection.LifecycleInline,
		Folder:    transitions.Folder(),
		Sources:   []event.StreamType{event.StreamTypeOrder},
		Router: &projection.Router{
			Subject: func(evt event.Event) (string, bool) { return evt.StreamID, true },
			Lookup:  func(context.Context, string) ([]string, error) { return nil, nil },
		},
	})
	if apperrors.GetCode(err) != apperrors.CodeLifecycleNotSupported {
		t.Fatalf("err = %v, want lifecycle not supported", err)
	}
}

func TestLiveAvailabilityReads(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	registerItem(t, engine, "item-7", "Widget", 499)
	if _, err := engine.AppendToStream(ctx, event.StreamTypeItem, "item-7",
		newEvent(t, event.TypeItemStockReceived, event.ItemStockReceivedPayload{Quantity: 10}),
		newEvent(t, event.TypeItemStockReserved, event.ItemStockReservedPayload{OrderID: "order-1", Quantity: 3}),
	); err != nil {
		t.Fatalf("append stock events: %v", err)
	}

	raw, err := engine.Read(ctx, views.ItemAvailabilityName, "item-7")
	if err != nil {
		t.Fatalf("read availability: %v", err)
	}
	var view views.ItemAvailability
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode availability: %v", err)
	}
	if view.Available != 7 {
		t.Fatalf("available = %d, want 7", view.Available)
	}
}

func TestAsyncCatalogCatchUpRead(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	registerItem(t, engine, "item-7", "Widget", 499)
	if err := engine.CatchUp(ctx, views.ItemCatalogName); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	// New events past the materialized record are folded in on read
	// without touching the stored row.
	if _, err := engine.AppendToStream(ctx, event.StreamTypeItem, "item-7",
		newEvent(t, event.TypeItemPriceChanged, event.ItemPriceChangedPayload{PriceCents: 599})); err != nil {
		t.Fatalf("change price: %v", err)
	}

	raw, err := engine.Read(ctx, views.ItemCatalogName, "item-7")
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	var current struct {
		PriceCents int64 `json:"price_cents"`
	}
	if err := json.Unmarshal(raw, &current); err != nil {
		t.Fatalf("decode catalog view: %v", err)
	}
	if current.PriceCents != 599 {
		t.Fatalf("read price = %d, want 599 via catch-up read", current.PriceCents)
	}

	record, err := store.LoadRecord(ctx, views.ItemCatalogName, "item-7")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	var stored struct {
		PriceCents int64 `json:"price_cents"`
	}
	if err := json.Unmarshal(record.ViewJSON, &stored); err != nil {
		t.Fatalf("decode stored view: %v", err)
	}
	if stored.PriceCents != 499 {
		t.Fatalf("stored price = %d, want 499 until the daemon catches up", stored.PriceCents)
	}
}

func TestOrderDetailsGathersLateItemStream(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	// The order references an item whose stream does not exist yet.
	placeOrder(t, engine, "order-1", event.OrderLine{ItemID: "item-7", Name: "Widget", Quantity: 1, PriceCents: 499})
	if err := engine.CatchUp(ctx, views.ItemOrdersName); err != nil {
		t.Fatalf("catch up lookup: %v", err)
	}
	if err := engine.CatchUp(ctx, views.OrderDetailsName); err != nil {
		t.Fatalf("catch up details: %v", err)
	}

	record, err := store.LoadRecord(ctx, views.OrderDetailsName, "order-1")
	if err != nil {
		t.Fatalf("load details: %v", err)
	}
	var details views.OrderDetailsView
	if err := json.Unmarshal(record.ViewJSON, &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if len(details.Items) != 0 {
		t.Fatalf("items = %d, want 0 before the item stream exists", len(details.Items))
	}

	// Item appears later; its events resolve to the order through the
	// lookup view and the slice is refolded.
	registerItem(t, engine, "item-7", "Widget", 499)
	if _, err := engine.AppendToStream(ctx, event.StreamTypeItem, "item-7",
		newEvent(t, event.TypeItemRenamed, event.ItemRenamedPayload{Name: "Widget Pro"})); err != nil {
		t.Fatalf("rename item: %v", err)
	}
	if err := engine.CatchUp(ctx, views.OrderDetailsName); err != nil {
		t.Fatalf("catch up details: %v", err)
	}

	record, err = store.LoadRecord(ctx, views.OrderDetailsName, "order-1")
	if err != nil {
		t.Fatalf("load details: %v", err)
	}
	if err := json.Unmarshal(record.ViewJSON, &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if got := details.Items["item-7"].Name; got != "Widget Pro" {
		t.Fatalf("item name = %q, want Widget Pro", got)
	}
	if details.Order.TotalQuantity() != 1 {
		t.Fatalf("order quantity = %d, want 1", details.Order.TotalQuantity())
	}
}

func TestAsyncReplayIsIdempotent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	registerItem(t, engine, "item-7", "Widget", 499)
	if _, err := engine.AppendToStream(ctx, event.StreamTypeItem, "item-7",
		newEvent(t, event.TypeItemStockReceived, event.ItemStockReceivedPayload{Quantity: 5})); err != nil {
		t.Fatalf("receive stock: %v", err)
	}
	if err := engine.CatchUp(ctx, views.ItemCatalogName); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	before, err := store.LoadRecord(ctx, views.ItemCatalogName, "item-7")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}

	// Simulate a crash after record writes but before the checkpoint was
	// trusted: reprocess the whole history against the existing record.
	if err := store.ResetCheckpoint(ctx, views.ItemCatalogName); err != nil {
		t.Fatalf("reset checkpoint: %v", err)
	}
	if err := engine.CatchUp(ctx, views.ItemCatalogName); err != nil {
		t.Fatalf("re-catch up: %v", err)
	}

	after, err := store.LoadRecord(ctx, views.ItemCatalogName, "item-7")
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if string(before.ViewJSON) != string(after.ViewJSON) {
		t.Fatalf("replay changed the view:\n%s\nvs\n%s", before.ViewJSON, after.ViewJSON)
	}
}

func TestRebuildMatchesMaterializedState(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	registerItem(t, engine, "item-7", "Widget", 499)
	registerItem(t, engine, "item-9", "Gadget", 1299)
	placeOrder(t, engine, "order-1",
		event.OrderLine{ItemID: "item-7", Name: "Widget", Quantity: 2, PriceCents: 499},
		event.OrderLine{ItemID: "item-9", Name: "Gadget", Quantity: 1, PriceCents: 1299})
	if _, err := engine.AppendToStream(ctx, event.StreamTypeItem, "item-7",
		newEvent(t, event.TypeItemRenamed, event.ItemRenamedPayload{Name: "Widget Pro"})); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := engine.CatchUp(ctx, views.ItemOrdersName); err != nil {
		t.Fatalf("catch up lookup: %v", err)
	}
	if err := engine.CatchUp(ctx, views.OrderDetailsName); err != nil {
		t.Fatalf("catch up details: %v", err)
	}

	before, err := store.LoadAllRecords(ctx, views.OrderDetailsName)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}

	if err := engine.Rebuild(ctx, views.OrderDetailsName); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	after, err := store.LoadAllRecords(ctx, views.OrderDetailsName)
	if err != nil {
		t.Fatalf("reload records: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("records = %d, want %d after rebuild", len(after), len(before))
	}
	for i := range before {
		if before[i].Key != after[i].Key || string(before[i].ViewJSON) != string(after[i].ViewJSON) {
			t.Fatalf("record %s diverged after rebuild:\n%s\nvs\n%s",
				before[i].Key, before[i].ViewJSON, after[i].ViewJSON)
		}
	}
}

func TestRebuildStreamIsSingleStreamOnly(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	err := engine.RebuildStream(ctx, views.OrderDetailsName, "order-1")
	if apperrors.GetCode(err) != apperrors.CodeRebuildNotSupported {
		t.Fatalf("err = %v, want rebuild not supported", err)
	}

	registerItem(t, engine, "item-7", "Widget", 499)
	if err := engine.RebuildStream(ctx, views.ItemCatalogName, "item-7"); err != nil {
		t.Fatalf("rebuild stream: %v", err)
	}
	record, err := store.LoadRecord(ctx, views.ItemCatalogName, "item-7")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Applied["item-7"] != 1 {
		t.Fatalf("applied mark = %d, want 1", record.Applied["item-7"])
	}
}

func TestDaemonCatchesUpAndStopsCooperatively(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registerItem(t, engine, "item-7", "Widget", 499)

	daemon, err := engine.Daemon(views.ItemCatalogName,
		projection.WithPollInterval(10*time.Millisecond),
		projection.WithBatchSize(10))
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		if _, err := store.LoadRecord(context.Background(), views.ItemCatalogName, "item-7"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("daemon did not materialize the record in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	lag, err := daemon.Lag(context.Background())
	if err != nil {
		t.Fatalf("lag: %v", err)
	}
	if lag != 0 {
		t.Fatalf("lag = %d, want 0 once caught up", lag)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("daemon returned %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}

func TestNotificationsFollowPersistence(t *testing.T) {
	bus := notify.NewBus(16)
	engine, _ := newTestEngine(t, projection.WithNotifier(bus))
	ctx := context.Background()

	placeOrder(t, engine, "order-1", event.OrderLine{ItemID: "item-7", Name: "Widget", Quantity: 1, PriceCents: 499})

	select {
	case n := <-bus.Subscribe():
		if n.Projection != views.OrderSummaryName || n.RecordID != "order-1" {
			t.Fatalf("notification = %+v, want order-summary/order-1", n)
		}
	default:
		t.Fatal("expected a notification after the inline record persisted")
	}

	if err := engine.CatchUp(ctx, views.ItemOrdersName); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	select {
	case n := <-bus.Subscribe():
		if n.Projection != views.ItemOrdersName || n.RecordID != "item-7" {
			t.Fatalf("notification = %+v, want item-orders/item-7", n)
		}
	default:
		t.Fatal("expected a notification after the async record persisted")
	}
}

func TestReadUnknownProjection(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Read(context.Background(), "no-such-view", "key")
	if apperrors.GetCode(err) != apperrors.CodeProjectionUnknown {
		t.Fatalf("err = %v, want unknown projection", err)
	}
}

func TestItemHistoryDerivesCurrentValues(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	registerItem(t, engine, "item-7", "Widget", 499)
	if _, err := engine.AppendToStream(ctx, event.StreamTypeItem, "item-7",
		newEvent(t, event.TypeItemRenamed, event.ItemRenamedPayload{Name: "Widget Pro"}),
		newEvent(t, event.TypeItemPriceChanged, event.ItemPriceChangedPayload{PriceCents: 599}),
	); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := engine.CatchUp(ctx, views.ItemHistoryName); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	record, err := store.LoadRecord(ctx, views.ItemHistoryName, "item-7")
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	var log struct {
		Entries []struct {
			EventType string `json:"event_type"`
			Changes   []struct {
				Field    string `json:"field"`
				NewValue string `json:"new_value"`
			} `json:"changes"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(record.ViewJSON, &log); err != nil {
		t.Fatalf("decode changelog: %v", err)
	}
	if len(log.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(log.Entries))
	}

	current := ""
	for _, entry := range log.Entries {
		for _, change := range entry.Changes {
			if change.Field == "name" {
				current = change.NewValue
			}
		}
	}
	if current != "Widget Pro" {
		t.Fatalf("current name = %q, want Widget Pro", current)
	}
}

func TestFetchForWritingGuardsConcurrentAppend(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	registerItem(t, engine, "item-7", "Widget", 499)

	session, err := engine.FetchForWriting(ctx, "item-7")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(session.History) != 1 {
		t.Fatalf("history = %d, want 1", len(session.History))
	}

	// Another writer advances the stream between fetch and append.
	if _, err := engine.AppendToStream(ctx, event.StreamTypeItem, "item-7",
		newEvent(t, event.TypeItemStockReceived, event.ItemStockReceivedPayload{Quantity: 1})); err != nil {
		t.Fatalf("interleaved append: %v", err)
	}

	_, err = session.Append(ctx,
		newEvent(t, event.TypeItemRenamed, event.ItemRenamedPayload{Name: "Late"}))
	if !errors.Is(err, storage.ErrConcurrentAppend) {
		t.Fatalf("err = %v, want ErrConcurrentAppend", err)
	}
}

func TestReadAllSkipsLiveProjections(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.ReadAll(context.Background(), views.ItemAvailabilityName); err == nil {
		t.Fatal("expected error reading all records of a live projection")
	}
}

func TestManyOrdersShareOneItem(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	registerItem(t, engine, "item-7", "Widget", 499)
	for i := 1; i <= 3; i++ {
		placeOrder(t, engine, fmt.Sprintf("order-%d", i),
			event.OrderLine{ItemID: "item-7", Name: "Widget", Quantity: 1, PriceCents: 499})
	}
	if err := engine.CatchUp(ctx, views.ItemOrdersName); err != nil {
		t.Fatalf("catch up lookup: %v", err)
	}

	record, err := store.LoadRecord(ctx, views.ItemOrdersName, "item-7")
	if err != nil {
		t.Fatalf("load lookup: %v", err)
	}
	lookup, err := views.DecodeItemOrders(record.ViewJSON)
	if err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if len(lookup.OrderIDs) != 3 {
		t.Fatalf("orders = %v, want 3 entries", lookup.OrderIDs)
	}
}
