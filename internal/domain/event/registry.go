package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Registry validation errors.
var (
	ErrTypeRequired       = errors.New("event type is required")
	ErrTypeUnknown        = errors.New("event type is not registered")
	ErrTypeAlreadyDefined = errors.New("event type is already registered")
	ErrStreamTypeRequired = errors.New("stream type is required")
	ErrStreamTypeMismatch = errors.New("event type belongs to a different stream type")
	ErrPayloadInvalid     = errors.New("event payload is not valid JSON")
	ErrSequencePreset     = errors.New("sequence fields must be unset before append")
)

// Definition declares one event type and the stream type that owns it.
type Definition struct {
	Type   Type
	Stream StreamType
	// Creates marks the type as a stream-creation event. Folding a stream
	// starts from its creation event.
	Creates bool
}

// Registry is the closed set of event types the engine understands.
type Registry struct {
	defs map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Type]Definition)}
}

// Register adds a definition to the registry.
func (r *Registry) Register(def Definition) error {
	if strings.TrimSpace(string(def.Type)) == "" {
		return ErrTypeRequired
	}
	if strings.TrimSpace(string(def.Stream)) == "" {
		return ErrStreamTypeRequired
	}
	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("%w: %s", ErrTypeAlreadyDefined, def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// Definition returns the definition for a type.
func (r *Registry) Definition(t Type) (Definition, bool) {
	def, ok := r.defs[t]
	return def, ok
}

// StreamTypeOf returns the owning stream type for an event type.
func (r *Registry) StreamTypeOf(t Type) (StreamType, bool) {
	def, ok := r.defs[t]
	if !ok {
		return "", false
	}
	return def.Stream, true
}

// Creates reports whether the type is a stream-creation event.
func (r *Registry) Creates(t Type) bool {
	def, ok := r.defs[t]
	return ok && def.Creates
}

// ValidateForAppend checks an event against the registry before persistence.
// It normalizes an empty payload to the JSON null-object and rejects events
// whose type is unknown or owned by a different stream type.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	if strings.TrimSpace(string(evt.Type)) == "" {
		return Event{}, ErrTypeRequired
	}
	def, ok := r.defs[evt.Type]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrTypeUnknown, evt.Type)
	}
	if evt.StreamType != "" && evt.StreamType != def.Stream {
		return Event{}, fmt.Errorf("%w: %s is owned by %s", ErrStreamTypeMismatch, evt.Type, def.Stream)
	}
	evt.StreamType = def.Stream
	if evt.Seq != 0 || evt.GlobalSeq != 0 {
		return Event{}, ErrSequencePreset
	}
	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = json.RawMessage("{}")
	}
	if !json.Valid(evt.PayloadJSON) {
		return Event{}, ErrPayloadInvalid
	}
	return evt, nil
}

// DefaultRegistry returns a registry with every shop domain event registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	defs := []Definition{
		{Type: TypeOrderPlaced, Stream: StreamTypeOrder, Creates: true},
		{Type: TypeOrderItemAdded, Stream: StreamTypeOrder},
		{Type: TypeOrderItemRemoved, Stream: StreamTypeOrder},
		{Type: TypeOrderShipped, Stream: StreamTypeOrder},
		{Type: TypeOrderCancelled, Stream: StreamTypeOrder},
		{Type: TypeItemRegistered, Stream: StreamTypeItem, Creates: true},
		{Type: TypeItemRenamed, Stream: StreamTypeItem},
		{Type: TypeItemPriceChanged, Stream: StreamTypeItem},
		{Type: TypeItemStockReceived, Stream: StreamTypeItem},
		{Type: TypeItemStockReserved, Stream: StreamTypeItem},
		{Type: TypeItemArchived, Stream: StreamTypeItem},
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			// The default set is static; duplicate registration is a bug.
			panic(err)
		}
	}
	return r
}
