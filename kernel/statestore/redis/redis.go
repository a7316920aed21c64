// Package redis provides a Redis-backed implementation of the state and
// config stores, suitable for deployments where agent state must survive a
// process restart without the full event-sourcing machinery.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentkernel/agentkernel/kernel/statestore"
)

const defaultTimeout = 5 * time.Second

// StateStore is a Redis-backed statestore.StateStore. Keys are prefixed
// "state:" to share a database with other kernel concerns without
// collision.
type StateStore struct {
	client  redis.Cmdable
	timeout time.Duration
}

var _ statestore.StateStore = (*StateStore)(nil)

// NewStateStore builds a StateStore backed by the provided Redis client.
func NewStateStore(client redis.Cmdable) (*StateStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &StateStore{client: client, timeout: defaultTimeout}, nil
}

func stateKey(agentID string) string { return "state:" + agentID }

func (s *StateStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Load implements statestore.StateStore.
func (s *StateStore) Load(ctx context.Context, agentID string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	v, err := s.client.Get(ctx, stateKey(agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis statestore: load: %w", err)
	}
	return v, nil
}

// Save implements statestore.StateStore.
func (s *StateStore) Save(ctx context.Context, agentID string, data []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Set(ctx, stateKey(agentID), data, 0).Err()
}

// Delete implements statestore.StateStore. Deleting an absent key is not an
// error, matching Redis' own DEL semantics.
func (s *StateStore) Delete(ctx context.Context, agentID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Del(ctx, stateKey(agentID)).Err()
}

// Exists implements statestore.StateStore.
func (s *StateStore) Exists(ctx context.Context, agentID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, stateKey(agentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConfigStore is a Redis-backed statestore.ConfigStore, keyed by
// "config:{agentType}:{agentID}".
type ConfigStore struct {
	client  redis.Cmdable
	timeout time.Duration
}

var _ statestore.ConfigStore = (*ConfigStore)(nil)

// NewConfigStore builds a ConfigStore backed by the provided Redis client.
func NewConfigStore(client redis.Cmdable) (*ConfigStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &ConfigStore{client: client, timeout: defaultTimeout}, nil
}

func configKey(agentType, agentID string) string { return "config:" + agentType + ":" + agentID }

func (s *ConfigStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Load implements statestore.ConfigStore.
func (s *ConfigStore) Load(ctx context.Context, agentType, agentID string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	v, err := s.client.Get(ctx, configKey(agentType, agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis configstore: load: %w", err)
	}
	return v, nil
}

// Save implements statestore.ConfigStore.
func (s *ConfigStore) Save(ctx context.Context, agentType, agentID string, data []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Set(ctx, configKey(agentType, agentID), data, 0).Err()
}

// Delete implements statestore.ConfigStore.
func (s *ConfigStore) Delete(ctx context.Context, agentType, agentID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Del(ctx, configKey(agentType, agentID)).Err()
}

// Exists implements statestore.ConfigStore.
func (s *ConfigStore) Exists(ctx context.Context, agentType, agentID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, configKey(agentType, agentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
