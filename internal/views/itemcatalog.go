package views

import (
	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/domain/item"
	"github.com/averill/shopstream/internal/projection"
)

// ItemCatalogName identifies the async per-item catalog projection.
const ItemCatalogName = "item-catalog"

// ItemCatalog materializes the item aggregate asynchronously. Reads fall
// back to a catch-up replay of the item stream past the record's high-water
// mark, so slightly lagging records still read current.
func ItemCatalog() projection.Definition {
	transitions := projection.NewTransitions[item.State]()
	transitions.Create(event.TypeItemRegistered, func(_ string, evt event.Event) (item.State, error) {
		return item.New(evt)
	})
	for _, eventType := range item.FoldHandledTypes() {
		transitions.Apply(eventType, func(_ string, state item.State, evt event.Event) (item.State, error) {
			return item.Fold(state, evt)
		})
	}
	return projection.Definition{
		Name:      ItemCatalogName,
		Lifecycle: projection.LifecycleAsync,
		Folder:    transitions.Folder(),
		Sources:   []event.StreamType{event.StreamTypeItem},
	}
}
