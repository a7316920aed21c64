// Package eventstore defines the append-only, per-agent event log and
// snapshot storage contract (component C2). Two implementations are
// provided: an in-memory reference store under eventstore/memory and a
// durable MongoDB-backed store under eventstore/mongo.
package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// StoredEvent is a single immutable record in an agent's event log,
	// distinct from the wire Envelope type: it never leaves the store's
	// boundary and carries no routing information.
	StoredEvent struct {
		// EventID uniquely identifies this stored event.
		EventID uuid.UUID
		// AgentID is the agent this event belongs to.
		AgentID uuid.UUID
		// Version is monotone within AgentID, starting at 1, with no gaps.
		Version int64
		// EventType is the fully qualified type name of the domain event.
		EventType string
		// EventData is the serialized payload.
		EventData []byte
		// Metadata carries arbitrary string key-value annotations.
		Metadata map[string]string
		// Timestamp is when the event was appended, in UTC.
		Timestamp time.Time
	}

	// Snapshot is a point-in-time serialization of an agent's state,
	// stored alongside the event log to shorten replay.
	Snapshot struct {
		AgentID   uuid.UUID
		Version   int64
		StateData []byte
		Timestamp time.Time
	}

	// GetEventsOptions bounds a GetEvents query. A zero FromVersion means
	// no lower bound other than 1; a zero ToVersion means no upper bound;
	// a zero MaxCount means unlimited.
	GetEventsOptions struct {
		FromVersion int64
		ToVersion   int64
		MaxCount    int
	}

	// Store is the append-only per-agent event log plus single-snapshot
	// storage. Operations on distinct AgentIDs never block each other;
	// operations on the same AgentID are serialized.
	Store interface {
		// AppendEvents atomically assigns versions expectedVersion+1..
		// expectedVersion+len(events) to events, in order, and persists
		// them, but only if the store's current latest version for
		// agentID equals expectedVersion. Returns the new latest version.
		// On any failure, including ConcurrencyConflict, no event is
		// persisted.
		AppendEvents(ctx context.Context, agentID uuid.UUID, events []StoredEvent, expectedVersion int64) (int64, error)

		// GetEvents returns events with FromVersion <= v <= ToVersion
		// (inclusive, open-ended per the zero-value rule above), at most
		// MaxCount, sorted by version ascending.
		GetEvents(ctx context.Context, agentID uuid.UUID, opts GetEventsOptions) ([]StoredEvent, error)

		// GetLatestVersion returns the highest stored version for
		// agentID, or 0 if none.
		GetLatestVersion(ctx context.Context, agentID uuid.UUID) (int64, error)

		// SaveSnapshot replaces any prior snapshot for snap.AgentID.
		SaveSnapshot(ctx context.Context, snap Snapshot) error

		// GetLatestSnapshot returns the current snapshot for agentID, or
		// nil if none has been saved.
		GetLatestSnapshot(ctx context.Context, agentID uuid.UUID) (*Snapshot, error)
	}
)

// ConcurrencyConflictError is returned by AppendEvents when the caller's
// expectedVersion no longer matches the store's current latest version.
type ConcurrencyConflictError struct {
	AgentID         uuid.UUID
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("eventstore: concurrency conflict for agent %s: expected version %d, actual %d",
		e.AgentID, e.ExpectedVersion, e.ActualVersion)
}
