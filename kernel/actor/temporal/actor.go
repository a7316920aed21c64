package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/agent"
	"github.com/agentkernel/agentkernel/kernel/envelope"
)

// Actor is the Temporal-backed alternative to kernel/actor.Actor: instead
// of subscribing a handler on an in-process Stream, it starts one
// long-running AgentWorkflow execution and drives Dispatch by signaling
// that workflow. Delivery into a Temporal actor happens through Deliver,
// which a routing layer calls in place of Stream.Produce.
type Actor struct {
	id      uuid.UUID
	ag      agent.Agent
	engine  *Engine
	router  Router
	logger  telemetry.Logger
	maxHops int

	workflowID string
	run        client.WorkflowRun

	mu       sync.RWMutex
	parentID *uuid.UUID
	childIDs map[uuid.UUID]struct{}
}

// Router routes a published envelope on behalf of publisher. Kept as a
// package-local function type, rather than depending on kernel/actor's
// Router interface, since that interface is keyed to the in-process Actor
// type and a Temporal actor is a distinct publisher type.
type Router func(ctx context.Context, publisher *Actor, env *envelope.Envelope) error

// Options configures a temporal Actor.
type Options struct {
	MaxHops int
	Logger  telemetry.Logger
}

// New constructs a Temporal-backed Actor for ag. The Actor is not started
// until Activate is called.
func New(id uuid.UUID, ag agent.Agent, engine *Engine, router Router, opts Options) *Actor {
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = envelope.DefaultMaxHops
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	a := &Actor{id: id, ag: ag, engine: engine, router: router, logger: logger, maxHops: maxHops, childIDs: make(map[uuid.UUID]struct{})}
	if injectable, ok := ag.(interface {
		SetPublishFunc(agent.PublishFunc)
		SetLogger(telemetry.Logger)
	}); ok {
		injectable.SetLogger(logger)
		injectable.SetPublishFunc(a.PublishEvent)
	}
	return a
}

// ID returns the actor's identity.
func (a *Actor) ID() uuid.UUID { return a.id }

// Activate registers the agent with the engine's dispatch table and starts
// its backing workflow execution, then calls Agent.OnActivate.
func (a *Actor) Activate(ctx context.Context) error {
	a.engine.register(a.id, a.ag)

	a.workflowID = fmt.Sprintf("agent-%s", a.id)
	run, err := a.engine.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        a.workflowID,
		TaskQueue: a.engine.taskQueue,
	}, AgentWorkflow, WorkflowParams{AgentID: a.id})
	if err != nil {
		a.engine.unregister(a.id)
		return fmt.Errorf("temporal actor %s: start workflow: %w", a.id, err)
	}
	a.run = run

	if err := a.ag.OnActivate(ctx); err != nil {
		return fmt.Errorf("temporal actor %s: OnActivate: %w", a.id, err)
	}
	return nil
}

// Deactivate signals the workflow to stop, calls Agent.OnDeactivate, and
// removes the agent from the engine's dispatch table.
func (a *Actor) Deactivate(ctx context.Context) error {
	if a.run != nil {
		if err := a.engine.client.SignalWorkflow(ctx, a.workflowID, a.run.GetRunID(), StopSignalName, nil); err != nil {
			a.logger.Warn(ctx, "temporal actor: signal stop failed", "agent_id", a.id, "error", err)
		}
	}
	if err := a.ag.OnDeactivate(ctx); err != nil {
		a.logger.Warn(ctx, "temporal actor: OnDeactivate returned error", "agent_id", a.id, "error", err)
	}
	a.engine.unregister(a.id)
	return nil
}

// Deliver signals env to this actor's workflow, driving one Dispatch call.
// The routing core calls this in place of Stream.Produce when the target
// actor is Temporal-backed.
func (a *Actor) Deliver(ctx context.Context, env *envelope.Envelope) error {
	if a.run == nil {
		return fmt.Errorf("temporal actor %s: not activated", a.id)
	}
	if err := a.engine.client.SignalWorkflow(ctx, a.workflowID, a.run.GetRunID(), EnvelopeSignalName, env); err != nil {
		return fmt.Errorf("temporal actor %s: signal envelope: %w", a.id, err)
	}
	return nil
}

// SetParent records parentID as this actor's parent.
func (a *Actor) SetParent(parentID uuid.UUID) error {
	if parentID == a.id {
		return fmt.Errorf("temporal actor %s: cannot be its own parent", a.id)
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
		return fmt.Errorf("temporal actor %s: cannot be its own child", a.id)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.childIDs[childID] = struct{}{}
	return nil
}

// GetChildren returns a snapshot of this actor's current children.
func (a *Actor) GetChildren() []uuid.UUID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	children := make([]uuid.UUID, 0, len(a.childIDs))
	for id := range a.childIDs {
		children = append(children, id)
	}
	return children
}

// PublishEvent builds an envelope for payload and routes it exactly as
// kernel/actor.Actor.PublishEvent does.
func (a *Actor) PublishEvent(ctx context.Context, payload any, direction envelope.Direction) (uuid.UUID, error) {
	env, err := envelope.New(a.id, payload, direction, "", a.maxHops)
	if err != nil {
		return uuid.Nil, fmt.Errorf("temporal actor %s: build envelope: %w", a.id, err)
	}
	if err := a.router(ctx, a, env); err != nil {
		return env.ID, fmt.Errorf("temporal actor %s: route envelope: %w", a.id, err)
	}
	return env.ID, nil
}
