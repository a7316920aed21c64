// Package mongo wires the eventstore.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	clientsmongo "github.com/agentkernel/agentkernel/kernel/eventstore/mongo/clients/mongo"
	"github.com/agentkernel/agentkernel/kernel/eventstore"
)

// Store implements eventstore.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// Compile-time check that Store implements eventstore.Store.
var _ eventstore.Store = (*Store)(nil)

// NewStore builds a Mongo-backed event store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// AppendEvents implements eventstore.Store.
func (s *Store) AppendEvents(ctx context.Context, agentID uuid.UUID, events []eventstore.StoredEvent, expectedVersion int64) (int64, error) {
	return s.client.AppendEvents(ctx, agentID, events, expectedVersion)
}

// GetEvents implements eventstore.Store.
func (s *Store) GetEvents(ctx context.Context, agentID uuid.UUID, opts eventstore.GetEventsOptions) ([]eventstore.StoredEvent, error) {
	return s.client.GetEvents(ctx, agentID, opts)
}

// GetLatestVersion implements eventstore.Store.
func (s *Store) GetLatestVersion(ctx context.Context, agentID uuid.UUID) (int64, error) {
	return s.client.GetLatestVersion(ctx, agentID)
}

// SaveSnapshot implements eventstore.Store.
func (s *Store) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	return s.client.SaveSnapshot(ctx, snap)
}

// GetLatestSnapshot implements eventstore.Store.
func (s *Store) GetLatestSnapshot(ctx context.Context, agentID uuid.UUID) (*eventstore.Snapshot, error) {
	return s.client.GetLatestSnapshot(ctx, agentID)
}
