package item

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/averill/shopstream/internal/domain/event"
	apperrors "github.com/averill/shopstream/internal/platform/errors"
)

func mustEvent(t *testing.T, seq uint64, eventType event.Type, payload any) event.Event {
	t.Helper()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{
		StreamID:    "item-7",
		StreamType:  event.StreamTypeItem,
		Seq:         seq,
		GlobalSeq:   seq,
		Type:        eventType,
		Timestamp:   time.Unix(int64(seq), 0).UTC(),
		PayloadJSON: payloadJSON,
	}
}

func foldAll(t *testing.T, events []event.Event) State {
	t.Helper()
	state, err := New(events[0])
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, evt := range events[1:] {
		state, err = Fold(state, evt)
		if err != nil {
			t.Fatalf("fold %s: %v", evt.Type, err)
		}
	}
	return state
}

func TestFoldTracksStockAndPrice(t *testing.T) {
	state := foldAll(t, []event.Event{
		mustEvent(t, 1, event.TypeItemRegistered, event.ItemRegisteredPayload{ItemID: "item-7", Name: "Widget", PriceCents: 499}),
		mustEvent(t, 2, event.TypeItemStockReceived, event.ItemStockReceivedPayload{Quantity: 10}),
		mustEvent(t, 3, event.TypeItemStockReserved, event.ItemStockReservedPayload{OrderID: "order-1", Quantity: 4}),
		mustEvent(t, 4, event.TypeItemPriceChanged, event.ItemPriceChangedPayload{PriceCents: 599}),
		mustEvent(t, 5, event.TypeItemRenamed, event.ItemRenamedPayload{Name: "Widget Pro"}),
	})

	if state.Name != "Widget Pro" {
		t.Fatalf("name = %q, want %q", state.Name, "Widget Pro")
	}
	if state.PriceCents != 599 {
		t.Fatalf("price = %d, want 599", state.PriceCents)
	}
	if state.Available() != 6 {
		t.Fatalf("available = %d, want 6", state.Available())
	}
}

func TestNewRejectsNonCreationEvent(t *testing.T) {
	_, err := New(mustEvent(t, 1, event.TypeItemRenamed, event.ItemRenamedPayload{Name: "x"}))
	if got := apperrors.GetCode(err); got != apperrors.CodeMissingInitialEvent {
		t.Fatalf("code = %q, want %q", got, apperrors.CodeMissingInitialEvent)
	}
}

func TestCheckReserve(t *testing.T) {
	base := State{Created: true, ID: "item-7", StockOnHand: 5, StockReserved: 2}

	tests := []struct {
		name     string
		state    State
		quantity int
		wantCode apperrors.Code
	}{
		{name: "ok", state: base, quantity: 3},
		{name: "shortfall", state: base, quantity: 4, wantCode: apperrors.CodeInsufficientStock},
		{name: "zero quantity", state: base, quantity: 0, wantCode: apperrors.CodeInsufficientStock},
		{name: "archived", state: State{Created: true, ID: "item-7", Archived: true, StockOnHand: 5}, quantity: 1, wantCode: apperrors.CodeItemArchived},
		{name: "missing", state: State{}, quantity: 1, wantCode: apperrors.CodeMissingInitialEvent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckReserve(tc.state, tc.quantity)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("check reserve: %v", err)
				}
				return
			}
			if got := apperrors.GetCode(err); got != tc.wantCode {
				t.Fatalf("code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestFoldSkipsUnknownEventType(t *testing.T) {
	state := State{Created: true, ID: "item-7", Name: "Widget"}
	folded, err := Fold(state, mustEvent(t, 2, event.Type("item.inspected"), struct{}{}))
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	if folded.Name != "Widget" {
		t.Fatalf("unknown event must not change state, name = %q", folded.Name)
	}
}
