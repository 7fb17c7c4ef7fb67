package views

import (
	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/domain/order"
	"github.com/averill/shopstream/internal/projection"
)

// OrderSummaryName identifies the inline per-order summary projection.
const OrderSummaryName = "order-summary"

// OrderSummary materializes the order aggregate inline, in the same
// transaction as the append, so the summary is never behind a committed
// write.
func OrderSummary() projection.Definition {
	transitions := projection.NewTransitions[order.State]()
	transitions.Create(event.TypeOrderPlaced, func(_ string, evt event.Event) (order.State, error) {
		return order.New(evt)
	})
	for _, eventType := range order.FoldHandledTypes() {
		transitions.Apply(eventType, func(_ string, state order.State, evt event.Event) (order.State, error) {
			return order.Fold(state, evt)
		})
	}
	return projection.Definition{
		Name:      OrderSummaryName,
		Lifecycle: projection.LifecycleInline,
		Folder:    transitions.Folder(),
		Sources:   []event.StreamType{event.StreamTypeOrder},
	}
}
