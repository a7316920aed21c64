// Package routing implements the direction-aware delivery algorithm: given
// a published envelope and the publishing actor's hierarchy view, it
// determines the delivery set (self/parent/children), applies the hop
// bound and cycle guard, and produces the envelope into each target
// stream.
package routing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/actor"
	"github.com/agentkernel/agentkernel/kernel/envelope"
)

type (
	// Registry resolves actor ids to the live Actor, so the routing core
	// can reach a target's stream without owning the registry itself.
	Registry interface {
		Lookup(id uuid.UUID) (*actor.Actor, bool)
	}

	// Core implements actor.Router.
	Core struct {
		registry Registry
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
	}
)

var _ actor.Router = (*Core)(nil)

// New constructs a routing Core backed by registry.
func New(registry Registry, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) *Core {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Core{registry: registry, logger: logger, metrics: metrics, tracer: tracer}
}

// Route implements actor.Router. See the package doc for the algorithm.
func (c *Core) Route(ctx context.Context, publisher *actor.Actor, env *envelope.Envelope) error {
	ctx, span := c.tracer.Start(ctx, "routing.Route")
	defer span.End()

	if env.CurrentHops >= env.MaxHops {
		c.logger.Debug(ctx, "routing: hop bound reached, dropping", "envelope_id", env.ID, "max_hops", env.MaxHops)
		c.metrics.IncCounter("kernel.routing.dropped_hop_bound", 1)
		return nil
	}
	if env.PublisherID != publisher.ID() && env.HasVisited(publisher.ID()) {
		c.logger.Debug(ctx, "routing: cycle detected, dropping", "envelope_id", env.ID, "agent_id", publisher.ID())
		c.metrics.IncCounter("kernel.routing.dropped_cycle", 1)
		return nil
	}

	delivery := env.Clone()
	delivery.Publishers = append(delivery.Publishers, publisher.ID())
	delivery.CurrentHops++

	switch env.Direction {
	case envelope.Self:
		c.deliverTo(ctx, publisher.ID(), delivery)
	case envelope.Up:
		c.deliverUp(ctx, publisher, delivery)
	case envelope.Down:
		c.deliverDown(ctx, publisher, delivery)
	case envelope.Both:
		c.deliverTo(ctx, publisher.ID(), delivery.Clone())
		c.deliverUpRewritten(ctx, publisher, delivery.Clone())
		c.deliverDownRewritten(ctx, publisher, delivery.Clone())
	default:
		return fmt.Errorf("routing: unknown direction %v", env.Direction)
	}
	return nil
}

func (c *Core) deliverUp(ctx context.Context, publisher *actor.Actor, env *envelope.Envelope) {
	parentID, ok := publisher.GetParent()
	if !ok {
		return
	}
	c.deliverTo(ctx, parentID, env)
}

func (c *Core) deliverDown(ctx context.Context, publisher *actor.Actor, env *envelope.Envelope) {
	for _, childID := range publisher.GetChildren() {
		c.deliverTo(ctx, childID, env.Clone())
	}
}

// deliverUpRewritten delivers the parent leg of a Both envelope, rewritten
// to Up so the parent's own re-routing of it does not re-broadcast
// sideways into its other children.
func (c *Core) deliverUpRewritten(ctx context.Context, publisher *actor.Actor, env *envelope.Envelope) {
	env.Direction = envelope.Up
	c.deliverUp(ctx, publisher, env)
}

// deliverDownRewritten delivers the children legs of a Both envelope,
// rewritten to Down for the same reason.
func (c *Core) deliverDownRewritten(ctx context.Context, publisher *actor.Actor, env *envelope.Envelope) {
	env.Direction = envelope.Down
	c.deliverDown(ctx, publisher, env)
}

func (c *Core) deliverTo(ctx context.Context, targetID uuid.UUID, env *envelope.Envelope) {
	target, ok := c.registry.Lookup(targetID)
	if !ok {
		c.logger.Warn(ctx, "routing: target stream not found, dropping", "target_id", targetID, "envelope_id", env.ID)
		c.metrics.IncCounter("kernel.routing.missing_target", 1)
		return
	}
	if err := target.Stream().Produce(ctx, env); err != nil {
		c.logger.Warn(ctx, "routing: produce into target stream failed", "target_id", targetID, "envelope_id", env.ID, "error", err)
		return
	}
	c.metrics.IncCounter("kernel.routing.delivered", 1, "direction", env.Direction.String())
}
