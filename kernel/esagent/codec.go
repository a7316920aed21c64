package esagent

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/agentkernel/agentkernel/kernel/envelope"
)

// JSONCodec serializes domain events as JSON, tagging each with the fully
// qualified type name derived the same way envelope.TypeURLFor does. Event
// types must be registered once (typically in the concrete agent's
// constructor) via RegisterEventType before they can be unmarshaled.
type JSONCodec struct{}

var (
	registryMu sync.RWMutex
	registry   = map[string]reflect.Type{}
)

// RegisterEventType records T's zero value under its fully qualified type
// name so JSONCodec.Unmarshal can later reconstruct values of that type from
// stored event data. Safe to call multiple times for the same T.
func RegisterEventType[T any]() {
	var zero T
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[envelope.TypeURLFor(zero)] = reflect.TypeOf(zero)
}

// Marshal implements Codec.
func (JSONCodec) Marshal(event any) ([]byte, string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, "", fmt.Errorf("esagent: marshal event: %w", err)
	}
	return data, envelope.TypeURLFor(event), nil
}

// Unmarshal implements Codec. Returns an error if eventType was never
// registered via RegisterEventType.
func (JSONCodec) Unmarshal(eventType string, data []byte) (any, error) {
	registryMu.RLock()
	t, ok := registry[eventType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("esagent: unregistered event type %q", eventType)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("esagent: unmarshal event %q: %w", eventType, err)
	}
	return ptr.Elem().Interface(), nil
}

// JSONMarshalState serializes state for snapshot storage.
func JSONMarshalState(state State) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("esagent: marshal state: %w", err)
	}
	return data, nil
}

// JSONUnmarshalStateInto reconstructs a State value of the same concrete
// type as current from data. current is only used to discover the concrete
// type to instantiate; its value is not otherwise consulted.
func JSONUnmarshalStateInto(current State, data []byte) (State, error) {
	t := reflect.TypeOf(current)
	isPtr := t.Kind() == reflect.Pointer
	if isPtr {
		t = t.Elem()
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("esagent: unmarshal state: %w", err)
	}
	if isPtr {
		return ptr.Interface().(State), nil
	}
	return ptr.Elem().Interface().(State), nil
}
