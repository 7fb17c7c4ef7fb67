package event

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRegistryValidateForAppend_UnknownTypeRejected(t *testing.T) {
	registry := DefaultRegistry()

	_, err := registry.ValidateForAppend(Event{Type: Type("order.exploded")})
	if !errors.Is(err, ErrTypeUnknown) {
		t.Fatalf("err = %v, want ErrTypeUnknown", err)
	}
}

func TestRegistryValidateForAppend_AssignsStreamType(t *testing.T) {
	registry := DefaultRegistry()

	evt, err := registry.ValidateForAppend(Event{Type: TypeOrderPlaced})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if evt.StreamType != StreamTypeOrder {
		t.Fatalf("stream type = %q, want %q", evt.StreamType, StreamTypeOrder)
	}
	if string(evt.PayloadJSON) != "{}" {
		t.Fatalf("payload = %q, want empty object", evt.PayloadJSON)
	}
}

func TestRegistryValidateForAppend_StreamTypeMismatchRejected(t *testing.T) {
	registry := DefaultRegistry()

	_, err := registry.ValidateForAppend(Event{
		Type:       TypeItemRenamed,
		StreamType: StreamTypeOrder,
	})
	if !errors.Is(err, ErrStreamTypeMismatch) {
		t.Fatalf("err = %v, want ErrStreamTypeMismatch", err)
	}
}

func TestRegistryValidateForAppend_PresetSequenceRejected(t *testing.T) {
	registry := DefaultRegistry()

	_, err := registry.ValidateForAppend(Event{Type: TypeOrderPlaced, Seq: 3})
	if !errors.Is(err, ErrSequencePreset) {
		t.Fatalf("err = %v, want ErrSequencePreset", err)
	}
}

func TestRegistryValidateForAppend_InvalidPayloadRejected(t *testing.T) {
	registry := DefaultRegistry()

	_, err := registry.ValidateForAppend(Event{
		Type:        TypeOrderPlaced,
		PayloadJSON: json.RawMessage("{not json"),
	})
	if !errors.Is(err, ErrPayloadInvalid) {
		t.Fatalf("err = %v, want ErrPayloadInvalid", err)
	}
}

func TestRegistryRegister_DuplicateRejected(t *testing.T) {
	registry := NewRegistry()
	def := Definition{Type: TypeOrderPlaced, Stream: StreamTypeOrder, Creates: true}
	if err := registry.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(def); !errors.Is(err, ErrTypeAlreadyDefined) {
		t.Fatalf("err = %v, want ErrTypeAlreadyDefined", err)
	}
}

func TestDefaultRegistryCreationTypes(t *testing.T) {
	registry := DefaultRegistry()

	if !registry.Creates(TypeOrderPlaced) {
		t.Fatal("order.placed must be a creation event")
	}
	if !registry.Creates(TypeItemRegistered) {
		t.Fatal("item.registered must be a creation event")
	}
	if registry.Creates(TypeOrderShipped) {
		t.Fatal("order.shipped must not be a creation event")
	}
}

func TestSortByGlobalSeq(t *testing.T) {
	events := []Event{
		{StreamID: "item-7", GlobalSeq: 9},
		{StreamID: "order-1", GlobalSeq: 2},
		{StreamID: "item-7", GlobalSeq: 5},
	}
	SortByGlobalSeq(events)
	for i, want := range []uint64{2, 5, 9} {
		if events[i].GlobalSeq != want {
			t.Fatalf("events[%d].GlobalSeq = %d, want %d", i, events[i].GlobalSeq, want)
		}
	}
}
