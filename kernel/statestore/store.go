// Package statestore defines the opaque per-agent blob persistence contract
// used by agents that do not opt into event sourcing (component C3), plus
// a per-(agent type, agent ID) configuration store.
package statestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no value exists for the given key.
var ErrNotFound = errors.New("statestore: not found")

// StateStore persists an opaque per-agent state blob, keyed by agent ID.
// There is no concurrency ordering across distinct keys.
type StateStore interface {
	Load(ctx context.Context, agentID string) ([]byte, error)
	Save(ctx context.Context, agentID string, data []byte) error
	Delete(ctx context.Context, agentID string) error
	Exists(ctx context.Context, agentID string) (bool, error)
}

// ConfigStore persists an opaque per-(agent type, agent ID) configuration
// blob. Nothing in the kernel reads it automatically; Agent.OnConfigure
// receives only the bytes its caller passes in.
type ConfigStore interface {
	Load(ctx context.Context, agentType, agentID string) ([]byte, error)
	Save(ctx context.Context, agentType, agentID string, data []byte) error
	Delete(ctx context.Context, agentType, agentID string) error
	Exists(ctx context.Context, agentType, agentID string) (bool, error)
}
