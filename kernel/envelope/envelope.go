// Package envelope defines the single wire type used for every cross-agent
// message and the pack/unpack helpers that round-trip typed payloads through
// it.
package envelope

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Direction describes the routing intent of an Envelope.
type Direction int

const (
	// Self delivers the envelope only into the publisher's own stream.
	Self Direction = iota
	// Up delivers the envelope into the publisher's parent stream.
	Up
	// Down delivers the envelope into the stream of every child.
	Down
	// Both delivers Self, Up, and Down together.
	Both
)

// String renders the direction for logging.
func (d Direction) String() string {
	switch d {
	case Self:
		return "self"
	case Up:
		return "up"
	case Down:
		return "down"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// DefaultMaxHops bounds the number of deliveries an envelope may accumulate
// along any simple path absent an explicit override.
const DefaultMaxHops = 16

// Envelope is the uniform carrier for any inter-agent message. It is the
// only wire type the kernel defines; every component that crosses an agent
// boundary does so by producing or consuming an Envelope.
type Envelope struct {
	// ID is unique per send with overwhelming probability.
	ID uuid.UUID
	// TypeURL identifies the payload's Go type by import path and name, e.g.
	// "github.com/agentkernel/agentkernel/internal/demoagents/bankaccount.MoneyDeposited".
	// Set by New and checked by Unpack.
	TypeURL string
	// Payload is the canonical JSON encoding of the domain event.
	Payload []byte
	// PublisherID is the agent that emitted this envelope.
	PublisherID uuid.UUID
	// Publishers is the ordered list of agents the envelope has traversed,
	// used to suppress cycles and self-echo.
	Publishers []uuid.UUID
	// CorrelationID optionally groups causally related envelopes.
	CorrelationID string
	// Direction is the routing intent.
	Direction Direction
	// MaxHops bounds delivery count along any simple path.
	MaxHops int
	// CurrentHops counts deliveries so far; CurrentHops <= MaxHops always.
	CurrentHops int
	// PublishedAtUnixMillis is the wall-clock send time.
	PublishedAtUnixMillis int64
}

// New constructs an Envelope carrying payload, stamped as freshly published
// by publisherID. The unexported pack helper serializes payload and derives
// the type URL.
func New(publisherID uuid.UUID, payload any, direction Direction, correlationID string, maxHops int) (*Envelope, error) {
	raw, typeURL, err := pack(payload)
	if err != nil {
		return nil, err
	}
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Envelope{
		ID:                    uuid.New(),
		TypeURL:               typeURL,
		Payload:               raw,
		PublisherID:           publisherID,
		Publishers:            []uuid.UUID{publisherID},
		CorrelationID:         correlationID,
		Direction:             direction,
		MaxHops:               maxHops,
		CurrentHops:           0,
		PublishedAtUnixMillis: time.Now().UnixMilli(),
	}, nil
}

// Clone returns a deep copy of the envelope, safe for independent mutation
// (used by the routing core before stamping a delivery).
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Publishers = append([]uuid.UUID(nil), e.Publishers...)
	clone.Payload = append([]byte(nil), e.Payload...)
	return &clone
}

// HasVisited reports whether agentID already appears in the envelope's
// traversal history.
func (e *Envelope) HasVisited(agentID uuid.UUID) bool {
	for _, id := range e.Publishers {
		if id == agentID {
			return true
		}
	}
	return false
}

// TypeURLFor derives the stable type identifier the kernel uses to tag a
// payload, from its fully qualified Go type name.
func TypeURLFor(payload any) string {
	t := reflect.TypeOf(payload)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

func pack(payload any) ([]byte, string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("envelope: marshal payload: %w", err)
	}
	return raw, TypeURLFor(payload), nil
}

// Unpack deserializes the envelope's payload into a value of type T. It
// returns MalformedPayload if the envelope's TypeURL does not match T's
// fully qualified type name.
func Unpack[T any](e *Envelope) (T, error) {
	var zero T
	wantType := TypeURLFor(zero)
	if e.TypeURL != wantType {
		return zero, &MalformedPayloadError{Expected: wantType, Actual: e.TypeURL}
	}
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return zero, &MalformedPayloadError{Expected: wantType, Actual: e.TypeURL, Cause: err}
	}
	return v, nil
}
