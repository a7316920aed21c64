// Package memory provides an in-memory implementation of the event store.
//
// Per-agent operations are serialized by a dedicated mutex, while
// operations on distinct agents never block each other.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/kernel/eventstore"
)

// Store is an in-memory implementation of eventstore.Store. It is safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	agents map[uuid.UUID]*agentLog
}

// Compile-time check that Store implements eventstore.Store.
var _ eventstore.Store = (*Store)(nil)

type agentLog struct {
	mu       sync.Mutex
	events   []eventstore.StoredEvent
	snapshot *eventstore.Snapshot
}

// New creates a new in-memory event store.
func New() *Store {
	return &Store{agents: make(map[uuid.UUID]*agentLog)}
}

func (s *Store) logFor(agentID uuid.UUID) *agentLog {
	s.mu.RLock()
	l, ok := s.agents[agentID]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.agents[agentID]; ok {
		return l
	}
	l = &agentLog{}
	s.agents[agentID] = l
	return l
}

// AppendEvents implements eventstore.Store.
func (s *Store) AppendEvents(ctx context.Context, agentID uuid.UUID, events []eventstore.StoredEvent, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()

	current := int64(len(l.events))
	if current != expectedVersion {
		return 0, &eventstore.ConcurrencyConflictError{
			AgentID:         agentID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current,
		}
	}
	for i, e := range events {
		e.AgentID = agentID
		e.Version = expectedVersion + int64(i) + 1
		l.events = append(l.events, e)
	}
	return int64(len(l.events)), nil
}

// GetEvents implements eventstore.Store.
func (s *Store) GetEvents(ctx context.Context, agentID uuid.UUID, opts eventstore.GetEventsOptions) ([]eventstore.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()

	from := opts.FromVersion
	if from <= 0 {
		from = 1
	}
	to := opts.ToVersion
	if to <= 0 {
		to = int64(len(l.events))
	}

	var result []eventstore.StoredEvent
	for _, e := range l.events {
		if e.Version < from || e.Version > to {
			continue
		}
		result = append(result, e)
		if opts.MaxCount > 0 && len(result) >= opts.MaxCount {
			break
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

// GetLatestVersion implements eventstore.Store.
func (s *Store) GetLatestVersion(ctx context.Context, agentID uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.events)), nil
}

// SaveSnapshot implements eventstore.Store.
func (s *Store) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.logFor(snap.AgentID)
	l.mu.Lock()
	defer l.mu.Unlock()
	stored := snap
	stored.StateData = append([]byte(nil), snap.StateData...)
	l.snapshot = &stored
	return nil
}

// GetLatestSnapshot implements eventstore.Store.
func (s *Store) GetLatestSnapshot(ctx context.Context, agentID uuid.UUID) (*eventstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.logFor(agentID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot == nil {
		return nil, nil
	}
	clone := *l.snapshot
	clone.StateData = append([]byte(nil), l.snapshot.StateData...)
	return &clone, nil
}
