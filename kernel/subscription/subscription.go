// Package subscription manages parent-child stream subscriptions as
// first-class objects: durable handles that install the cycle filter and
// activity tracking, can be health-checked, and can be reconnected after
// failure using one of four composable retry policies.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/envelope"
	"github.com/agentkernel/agentkernel/kernel/stream"
)

type (
	// StreamResolver resolves an agent id to its live Stream, creating it
	// if the substrate lazily creates streams. Implemented by whatever
	// owns stream lifecycle (typically the factory/manager).
	StreamResolver interface {
		ResolveStream(ctx context.Context, agentID uuid.UUID) (stream.Stream, error)
	}

	// Handle is a durable parent-child subscription. It stays valid across
	// Reconnect calls: the subscription_id is stable even though the
	// underlying stream.SubscriptionHandle it wraps is replaced.
	Handle struct {
		subscriptionID uuid.UUID
		parentID       uuid.UUID
		childID        uuid.UUID
		handler        stream.Handler
		policy         Policy

		mgr *Manager

		mu             sync.Mutex
		inner          stream.SubscriptionHandle
		lastActivity   time.Time
		unsubscribed   bool
	}

	// Manager is the subscription manager (C9).
	Manager struct {
		resolver StreamResolver
		logger   telemetry.Logger
		metrics  telemetry.Metrics

		mu     sync.Mutex
		active map[uuid.UUID]*Handle
	}
)

// New constructs a subscription Manager that resolves streams through
// resolver.
func New(resolver StreamResolver, logger telemetry.Logger, metrics telemetry.Metrics) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Manager{resolver: resolver, logger: logger, metrics: metrics, active: make(map[uuid.UUID]*Handle)}
}

// Subscribe installs handler on childID's stream on behalf of parentID,
// wrapped with the cycle filter (drops envelopes published by childID
// itself), activity-timestamp tracking, and an error-swallowing logger. If
// resolving or subscribing to the stream fails, policy governs retries.
func (m *Manager) Subscribe(ctx context.Context, parentID, childID uuid.UUID, handler stream.Handler, policy Policy) (*Handle, error) {
	h := &Handle{
		subscriptionID: uuid.New(),
		parentID:       parentID,
		childID:        childID,
		handler:        handler,
		policy:         policy,
		mgr:            m,
	}
	if err := Do(ctx, policy, func(ctx context.Context) error {
		return h.subscribe(ctx)
	}); err != nil {
		return nil, fmt.Errorf("subscription: subscribe parent=%s child=%s: %w", parentID, childID, err)
	}
	m.mu.Lock()
	m.active[h.subscriptionID] = h
	m.mu.Unlock()
	return h, nil
}

// GetActiveSubscriptions returns every Handle created by this Manager that
// has not been explicitly unsubscribed. Order is unspecified.
func (m *Manager) GetActiveSubscriptions() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		out = append(out, h)
	}
	return out
}

func (h *Handle) subscribe(ctx context.Context) error {
	str, err := h.mgr.resolver.ResolveStream(ctx, h.childID)
	if err != nil {
		return err
	}
	childID := h.childID
	filter := func(env *envelope.Envelope) bool { return env.PublisherID != childID }
	wrapped := func(ctx context.Context, env *envelope.Envelope) error {
		h.mu.Lock()
		h.lastActivity = time.Now()
		h.mu.Unlock()
		if err := h.handler(ctx, env); err != nil {
			h.mgr.logger.Warn(ctx, "subscription: handler returned error, swallowed", "subscription_id", h.subscriptionID, "error", err)
		}
		return nil
	}
	inner := str.Subscribe(wrapped, filter)

	h.mu.Lock()
	h.inner = inner
	h.lastActivity = time.Now()
	h.unsubscribed = false
	h.mu.Unlock()
	return nil
}

// ID returns the subscription's stable identity, unaffected by Reconnect.
func (h *Handle) ID() uuid.UUID { return h.subscriptionID }

// Unsubscribe permanently ends the subscription and removes it from its
// Manager's active set.
func (h *Handle) Unsubscribe() {
	h.mu.Lock()
	h.unsubscribed = true
	inner := h.inner
	h.mu.Unlock()
	if inner != nil {
		inner.Unsubscribe()
	}
	h.mgr.mu.Lock()
	delete(h.mgr.active, h.subscriptionID)
	h.mgr.mu.Unlock()
}

// IsHealthy reports whether the subscription is still expected to receive
// deliveries: it is unhealthy once explicitly unsubscribed or once the
// wrapped stream.SubscriptionHandle reports inactive (for example because
// the target stream was closed).
func (h *Handle) IsHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsubscribed || h.inner == nil {
		return false
	}
	return h.inner.IsActive()
}

// Reconnect unsubscribes the current inner handle and re-subscribes using
// the saved handler, keeping the same subscription_id.
func (m *Manager) Reconnect(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	inner := h.inner
	h.mu.Unlock()
	if inner != nil {
		inner.Unsubscribe()
	}
	if err := Do(ctx, h.policy, func(ctx context.Context) error {
		return h.subscribe(ctx)
	}); err != nil {
		return err
	}
	m.mu.Lock()
	m.active[h.subscriptionID] = h
	m.mu.Unlock()
	return nil
}

// HealthMonitor polls h.IsHealthy every interval and calls Reconnect on
// unhealthy handles, until ctx is canceled.
func (m *Manager) HealthMonitor(ctx context.Context, h *Handle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.IsHealthy() {
				if err := m.Reconnect(ctx, h); err != nil {
					m.logger.Warn(ctx, "subscription: health monitor reconnect failed", "subscription_id", h.ID(), "error", err)
				}
			}
		}
	}
}
