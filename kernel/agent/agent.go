// Package agent defines the base agent contract: identity, opaque state,
// lifecycle callbacks, and reflective event-handler dispatch. Concrete agent
// types embed Base and register handlers for the payload types they react
// to; the kernel locates the right handler by the envelope's type URL.
package agent

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/envelope"
)

type (
	// PublishFunc is injected by the owning Actor so agent code can publish
	// envelopes without depending on the routing layer.
	PublishFunc func(ctx context.Context, payload any, direction envelope.Direction) (uuid.UUID, error)

	// Agent is the contract every agent type must satisfy. Most agent
	// types get this for free by embedding Base.
	Agent interface {
		// ID returns the agent's stable identity.
		ID() uuid.UUID

		// OnActivate runs after the stream is subscribed, before the agent
		// accepts external calls.
		OnActivate(ctx context.Context) error

		// OnDeactivate runs before the stream is torn down.
		OnDeactivate(ctx context.Context) error

		// OnConfigure installs a typed configuration, when one is
		// supplied. Implementations that don't take configuration may
		// treat this as a no-op.
		OnConfigure(ctx context.Context, config []byte) error

		// GetDescription returns a human-readable tag for diagnostics.
		GetDescription() string

		// Dispatch locates the handler registered for env's payload type
		// and invokes it. A missing handler is logged at debug and is not
		// an error.
		Dispatch(ctx context.Context, env *envelope.Envelope) error
	}

	// handlerEntry pairs a registered handler with the reflected type of
	// its single payload parameter.
	handlerEntry struct {
		payloadType reflect.Type
		invoke      func(ctx context.Context, env *envelope.Envelope) error
	}

	// Base provides the common agent scaffolding: identity, injected
	// logger and publisher, and a type_url -> handler dispatch table built
	// by RegisterHandler. Concrete agent types embed Base and call
	// RegisterHandler in their constructor.
	Base struct {
		id     uuid.UUID
		logger telemetry.Logger
		publish PublishFunc

		mu       sync.RWMutex
		handlers map[string]handlerEntry
	}
)

// NewBase constructs a Base with the given identity. Logger and the publish
// callback are injected separately (typically by the owning Actor) via
// SetLogger and SetPublishFunc, since they are not available at the agent's
// own construction time.
func NewBase(id uuid.UUID) *Base {
	return &Base{id: id, handlers: make(map[string]handlerEntry)}
}

// ID implements Agent.
func (b *Base) ID() uuid.UUID { return b.id }

// SetLogger injects the logger used by the agent. Called by the Actor
// before OnActivate.
func (b *Base) SetLogger(logger telemetry.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// SetPublishFunc injects the publish capability. Called by the Actor before
// OnActivate.
func (b *Base) SetPublishFunc(publish PublishFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publish = publish
}

// PublishEvent publishes payload in the given direction through the
// capability injected by the owning Actor. Returns the new envelope's id.
func (b *Base) PublishEvent(ctx context.Context, payload any, direction envelope.Direction) (uuid.UUID, error) {
	b.mu.RLock()
	publish := b.publish
	b.mu.RUnlock()
	if publish == nil {
		return uuid.Nil, fmt.Errorf("agent %s: publish capability not injected", b.id)
	}
	return publish(ctx, payload, direction)
}

// Logger returns the injected logger, or a no-op logger if none has been
// set yet.
func (b *Base) Logger() telemetry.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.logger == nil {
		return telemetry.NewNoopLogger()
	}
	return b.logger
}

// RegisterHandler declares that the agent handles payloads of type T with
// fn. Registration happens once per type per agent instance, typically in
// the concrete agent's constructor; the kernel does not use reflection-based
// assembly scanning to discover handlers, only this explicit call.
func RegisterHandler[T any](b *Base, fn func(ctx context.Context, payload T) error) {
	var zero T
	typeURL := envelope.TypeURLFor(zero)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typeURL] = handlerEntry{
		payloadType: reflect.TypeOf(zero),
		invoke: func(ctx context.Context, env *envelope.Envelope) error {
			payload, err := envelope.Unpack[T](env)
			if err != nil {
				return err
			}
			return fn(ctx, payload)
		},
	}
}

// Dispatch implements Agent. It is exported on Base so embedding types get a
// working implementation for free; overriding it is unusual.
func (b *Base) Dispatch(ctx context.Context, env *envelope.Envelope) error {
	b.mu.RLock()
	entry, ok := b.handlers[env.TypeURL]
	logger := b.logger
	b.mu.RUnlock()
	if !ok {
		if logger != nil {
			logger.Debug(ctx, "agent: no handler registered for payload type", "type_url", env.TypeURL, "agent_id", b.id)
		}
		return nil
	}
	return entry.invoke(ctx, env)
}

// OnActivate is a no-op default; concrete agents override it to run
// activation logic.
func (b *Base) OnActivate(context.Context) error { return nil }

// OnDeactivate is a no-op default; concrete agents override it to run
// teardown logic.
func (b *Base) OnDeactivate(context.Context) error { return nil }

// OnConfigure is a no-op default for agents that take no configuration.
func (b *Base) OnConfigure(context.Context, []byte) error { return nil }

// GetDescription is a generic default; concrete agents typically override
// it with a type-specific description.
func (b *Base) GetDescription() string { return fmt.Sprintf("agent(%s)", b.id) }
