// Package memory provides an in-memory implementation of the state and
// config stores.
package memory

import (
	"context"
	"sync"

	"github.com/agentkernel/agentkernel/kernel/statestore"
)

// StateStore is an in-memory, concurrency-safe statestore.StateStore.
type StateStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ statestore.StateStore = (*StateStore)(nil)

// NewStateStore creates a new in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{values: make(map[string][]byte)}
}

// Load implements statestore.StateStore.
func (s *StateStore) Load(_ context.Context, agentID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[agentID]
	if !ok {
		return nil, statestore.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save implements statestore.StateStore.
func (s *StateStore) Save(_ context.Context, agentID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[agentID] = append([]byte(nil), data...)
	return nil
}

// Delete implements statestore.StateStore. Deleting an absent key is not an
// error.
func (s *StateStore) Delete(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, agentID)
	return nil
}

// Exists implements statestore.StateStore.
func (s *StateStore) Exists(_ context.Context, agentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[agentID]
	return ok, nil
}

// ConfigStore is an in-memory, concurrency-safe statestore.ConfigStore.
type ConfigStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ statestore.ConfigStore = (*ConfigStore)(nil)

// NewConfigStore creates a new in-memory config store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{values: make(map[string][]byte)}
}

func configKey(agentType, agentID string) string { return agentType + "/" + agentID }

// Load implements statestore.ConfigStore.
func (s *ConfigStore) Load(_ context.Context, agentType, agentID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[configKey(agentType, agentID)]
	if !ok {
		return nil, statestore.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Save implements statestore.ConfigStore.
func (s *ConfigStore) Save(_ context.Context, agentType, agentID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[configKey(agentType, agentID)] = append([]byte(nil), data...)
	return nil
}

// Delete implements statestore.ConfigStore.
func (s *ConfigStore) Delete(_ context.Context, agentType, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, configKey(agentType, agentID))
	return nil
}

// Exists implements statestore.ConfigStore.
func (s *ConfigStore) Exists(_ context.Context, agentType, agentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[configKey(agentType, agentID)]
	return ok, nil
}
