package views

import (
	"github.com/averill/shopstream/internal/domain/changelog"
	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/projection"
)

// ItemHistoryName identifies the append-only item changelog projection.
const ItemHistoryName = "item-history"

// ItemHistory materializes a field-level changelog per item. Unlike the
// catalog it never overwrites prior state; each event appends the field
// deltas it caused, and current values are derived by scanning the log
// backward.
func ItemHistory() projection.Definition {
	transitions := projection.NewTransitions[changelog.Log]()
	transitions.Create(event.TypeItemRegistered, func(_ string, evt event.Event) (changelog.Log, error) {
		return changelog.New(evt)
	})
	for _, eventType := range []event.Type{
		event.TypeItemRenamed,
		event.TypeItemPriceChanged,
		event.TypeItemStockReceived,
		event.TypeItemStockReserved,
		event.TypeItemArchived,
	} {
		transitions.Apply(eventType, func(_ string, log changelog.Log, evt event.Event) (changelog.Log, error) {
			return changelog.Apply(log, evt)
		})
	}
	return projection.Definition{
		Name:      ItemHistoryName,
		Lifecycle: projection.LifecycleAsync,
		Folder:    transitions.Folder(),
		Sources:   []event.StreamType{event.StreamTypeItem},
	}
}
