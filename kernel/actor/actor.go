// Package actor wraps an Agent with the stream, hierarchy, and publish
// plumbing it needs to participate in routing. An Actor owns exactly one
// Agent and one Stream for its entire lifetime.
package actor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/agent"
	"github.com/agentkernel/agentkernel/kernel/envelope"
	"github.com/agentkernel/agentkernel/kernel/stream"
)

type (
	// Router delivers an envelope to its targets based on its direction
	// and the publishing actor's hierarchy view. Implemented by the
	// routing core (kernel/routing).
	Router interface {
		Route(ctx context.Context, publisher *Actor, env *envelope.Envelope) error
	}

	// Actor owns one Agent and one Stream. It builds and routes envelopes
	// on the agent's behalf and tracks the agent's position in the
	// hierarchy (parent and children, by id only; resolution happens
	// through the Manager/registry).
	Actor struct {
		id      uuid.UUID
		ag      agent.Agent
		str     stream.Stream
		router  Router
		logger  telemetry.Logger
		limiter *rate.Limiter

		maxHops int

		mu          sync.RWMutex
		parentID    *uuid.UUID
		childIDs    map[uuid.UUID]struct{}
		subHandle   stream.SubscriptionHandle
		activated   bool
		deactivated bool
	}

	// Options configures an Actor at construction.
	Options struct {
		MaxHops int
		Logger  telemetry.Logger

		// PublishRateLimit, when positive, caps PublishEvent to that many
		// envelopes per second (with a one-envelope burst), blocking the
		// caller until a token is available or ctx is canceled. Zero
		// disables throttling. This is an enrichment beyond spec.md's
		// explicit scope (§2 D6): the kernel itself imposes no timeouts
		// or deadlines, but a hosting process may want to bound how fast
		// a single agent can flood its targets.
		PublishRateLimit rate.Limit
	}
)

// ErrAlreadyActivated is returned by Activate when called a second time.
// The kernel treats double-activation as an error rather than silently
// idempotent, since a second Activate would subscribe a duplicate handler
// onto the same stream.
var ErrAlreadyActivated = fmt.Errorf("actor: already activated")

// New constructs an Actor for ag, backed by str and router, and injects the
// publish capability into ag so agent code can call PublishEvent without
// depending on the routing layer directly.
func New(id uuid.UUID, ag agent.Agent, str stream.Stream, router Router, opts Options) *Actor {
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = envelope.DefaultMaxHops
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	a := &Actor{
		id:       id,
		ag:       ag,
		str:      str,
		router:   router,
		logger:   logger,
		maxHops:  maxHops,
		childIDs: make(map[uuid.UUID]struct{}),
	}
	if opts.PublishRateLimit > 0 {
		a.limiter = rate.NewLimiter(opts.PublishRateLimit, 1)
	}
	if injectable, ok := ag.(interface {
		SetPublishFunc(agent.PublishFunc)
		SetLogger(telemetry.Logger)
	}); ok {
		injectable.SetLogger(logger)
		injectable.SetPublishFunc(a.PublishEvent)
	}
	return a
}

// ID returns the actor's (and its agent's) identity.
func (a *Actor) ID() uuid.UUID { return a.id }

// GetAgent returns the wrapped Agent.
func (a *Actor) GetAgent() agent.Agent { return a.ag }

// Activate subscribes the agent's stream and calls Agent.OnActivate. A
// second call returns ErrAlreadyActivated: the kernel chooses failure over
// silent idempotence here, since the caller is almost always a bug in that
// case (the factory would never call Activate twice in normal operation).
//
// The subscription installs a self-echo filter: for any direction other
// than Self, an envelope this agent published itself is dropped rather than
// dispatched back to the agent. The routing core's Both case produces one
// copy into the publisher's own stream alongside the parent and children
// legs, so the filter, not the routing core, is what keeps a Both or
// Up/Down publish from echoing into the publisher's own handler.
func (a *Actor) Activate(ctx context.Context) error {
	a.mu.Lock()
	if a.activated {
		a.mu.Unlock()
		return ErrAlreadyActivated
	}
	a.activated = true
	a.mu.Unlock()

	selfID := a.id
	filter := func(env *envelope.Envelope) bool {
		return env.PublisherID != selfID || env.Direction == envelope.Self
	}
	handle := a.str.Subscribe(func(ctx context.Context, env *envelope.Envelope) error {
		return a.ag.Dispatch(ctx, env)
	}, filter)

	a.mu.Lock()
	a.subHandle = handle
	a.mu.Unlock()

	if err := a.ag.OnActivate(ctx); err != nil {
		return fmt.Errorf("actor %s: OnActivate: %w", a.id, err)
	}
	return nil
}

// Deactivate calls Agent.OnDeactivate, unsubscribes the stream, and marks
// the actor torn down. Calling Deactivate on an already-deactivated actor
// is a no-op.
func (a *Actor) Deactivate(ctx context.Context) error {
	a.mu.Lock()
	if a.deactivated {
		a.mu.Unlock()
		return nil
	}
	a.deactivated = true
	handle := a.subHandle
	a.mu.Unlock()

	if err := a.ag.OnDeactivate(ctx); err != nil {
		a.logger.Warn(ctx, "actor: OnDeactivate returned error", "agent_id", a.id, "error", err)
	}
	if handle != nil {
		handle.Unsubscribe()
	}
	return nil
}

// PublishEvent builds an envelope for payload (new id, timestamp, publisher
// id = this actor, initial publishers = [this actor], current_hops = 0) and
// hands it to the router. Returns the new envelope's id. When the Actor was
// constructed with Options.PublishRateLimit, PublishEvent blocks until a
// token is available or ctx is canceled.
func (a *Actor) PublishEvent(ctx context.Context, payload any, direction envelope.Direction) (uuid.UUID, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return uuid.Nil, fmt.Errorf("actor %s: rate limit wait: %w", a.id, err)
		}
	}
	env, err := envelope.New(a.id, payload, direction, "", a.maxHops)
	if err != nil {
		return uuid.Nil, fmt.Errorf("actor %s: build envelope: %w", a.id, err)
	}
	if err := a.router.Route(ctx, a, env); err != nil {
		return env.ID, fmt.Errorf("actor %s: route envelope: %w", a.id, err)
	}
	return env.ID, nil
}

// Stream returns the actor's underlying message stream, used by the
// routing core to deliver envelopes.
func (a *Actor) Stream() stream.Stream { return a.str }

// SetParent records parentID as this actor's parent. An actor cannot be set
// as its own parent.
func (a *Actor) SetParent(parentID uuid.UUID) error {
	if parentID == a.id {
		return fmt.Errorf("actor %s: cannot be its own parent", a.id)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parentID = &parentID
	return nil
}

// GetParent returns this actor's parent id, if any.
func (a *Actor) GetParent() (uuid.UUID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.parentID == nil {
		return uuid.Nil, false
	}
	return *a.parentID, true
}

// AddChild records childID as one of this actor's children.
func (a *Actor) AddChild(childID uuid.UUID) error {
	if childID == a.id {
		return fmt.Errorf("actor %s: cannot be its own child", a.id)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.childIDs[childID] = struct{}{}
	return nil
}

// RemoveChild stops treating childID as one of this actor's children.
func (a *Actor) RemoveChild(childID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.childIDs, childID)
}

// GetChildren returns the current set of child ids. The returned slice is a
// snapshot; mutating the hierarchy afterward does not affect it.
func (a *Actor) GetChildren() []uuid.UUID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	children := make([]uuid.UUID, 0, len(a.childIDs))
	for id := range a.childIDs {
		children = append(children, id)
	}
	return children
}
