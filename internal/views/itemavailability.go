package views

import (
	"github.com/averill/shopstream/internal/domain/event"
	"github.com/averill/shopstream/internal/domain/item"
	"github.com/averill/shopstream/internal/projection"
)

// ItemAvailabilityName identifies the live stock availability projection.
const ItemAvailabilityName = "item-availability"

// ItemAvailability is the unreserved stock position of an item.
type ItemAvailability struct {
	ItemID    string `json:"item_id"`
	Available int    `json:"available"`
	Archived  bool   `json:"archived"`
}

// ItemAvailabilityLive replays the item stream on every read. Reservation
// decisions need the stock position as of this instant, not as of the last
// daemon pass, so this view is never persisted.
func ItemAvailabilityLive() projection.Definition {
	transitions := projection.NewTransitions[ItemAvailability]()
	transitions.Create(event.TypeItemRegistered, func(_ string, evt event.Event) (ItemAvailability, error) {
		state, err := item.New(evt)
		if err != nil {
			return ItemAvailability{}, err
		}
		return availabilityOf(state), nil
	})

	// Fold through the full item state so availability math lives in one
	// place, then project it down.
	for _, eventType := range []event.Type{
		event.TypeItemStockReceived,
		event.TypeItemStockReserved,
		event.TypeItemArchived,
	} {
		transitions.Apply(eventType, func(_ string, view ItemAvailability, evt event.Event) (ItemAvailability, error) {
			state := item.State{
				Created:     true,
				ID:          view.ItemID,
				StockOnHand: view.Available,
				Archived:    view.Archived,
			}
			state, err := item.Fold(state, evt)
			if err != nil {
				return view, err
			}
			return availabilityOf(state), nil
		})
	}

	return projection.Definition{
		Name:      ItemAvailabilityName,
		Lifecycle: projection.LifecycleLive,
		Folder:    transitions.Folder(),
		Sources:   []event.StreamType{event.StreamTypeItem},
	}
}

func availabilityOf(state item.State) ItemAvailability {
	return ItemAvailability{
		ItemID:    state.ID,
		Available: state.Available(),
		Archived:  state.Archived,
	}
}
