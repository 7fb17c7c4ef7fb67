package event

import (
	"encoding/json"
	"sort"
	"time"
)

// Type identifies an event kind, e.g. "order.placed".
type Type string

// StreamType identifies the kind of entity a stream records.
type StreamType string

// Stream types known to the shop domain.
const (
	StreamTypeOrder StreamType = "order"
	StreamTypeItem  StreamType = "item"
)

// Event is one immutable fact in a stream.
//
// Identity is (StreamID, Seq); GlobalSeq totally orders events across all
// streams. Both sequence fields are assigned by the event log on append and
// must be zero before persistence.
type Event struct {
	StreamID    string
	StreamType  StreamType
	Seq         uint64
	GlobalSeq   uint64
	Type        Type
	Timestamp   time.Time
	PayloadJSON json.RawMessage
}

// ID is the stable identity of a persisted event.
type ID struct {
	StreamID string
	Seq      uint64
}

// Identity returns the event's (stream, sequence) identity.
func (e Event) Identity() ID {
	return ID{StreamID: e.StreamID, Seq: e.Seq}
}

// New builds an unsequenced event ready for append.
func New(eventType Type, payload any) (Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:        eventType,
		PayloadJSON: payloadJSON,
	}, nil
}

// SortByGlobalSeq orders events ascending by global sequence in place.
// Cross-stream slices must fold in this order regardless of which correlation
// path discovered each event.
func SortByGlobalSeq(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].GlobalSeq < events[j].GlobalSeq
	})
}
