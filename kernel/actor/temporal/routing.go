package temporal

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/envelope"
)

// Registry resolves actor ids to the live Temporal-backed Actor, mirroring
// kernel/routing.Registry for this substrate's Actor type.
type Registry interface {
	Lookup(id uuid.UUID) (*Actor, bool)
}

// RoutingCore implements Router for a pool of Temporal-backed actors, using
// the same hop-bound/cycle-guard/direction algorithm as kernel/routing.Core,
// adapted to call Actor.Deliver instead of Stream.Produce.
type RoutingCore struct {
	registry Registry
	logger   telemetry.Logger
	metrics  telemetry.Metrics
}

// NewRoutingCore constructs a RoutingCore backed by registry.
func NewRoutingCore(registry Registry, logger telemetry.Logger, metrics telemetry.Metrics) *RoutingCore {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &RoutingCore{registry: registry, logger: logger, metrics: metrics}
}

// Route implements Router, using the same hop-bound/cycle-guard/direction
// algorithm as kernel/routing.Core.Route.
func (c *RoutingCore) Route(ctx context.Context, publisher *Actor, env *envelope.Envelope) error {
	if env.CurrentHops >= env.MaxHops {
		c.logger.Debug(ctx, "temporal routing: hop bound reached, dropping", "envelope_id", env.ID)
		return nil
	}
	if env.PublisherID != publisher.ID() && env.HasVisited(publisher.ID()) {
		c.logger.Debug(ctx, "temporal routing: cycle detected, dropping", "envelope_id", env.ID)
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
		d := delivery.Clone()
		d.Direction = envelope.Up
		c.deliverUp(ctx, publisher, d)
		d2 := delivery.Clone()
		d2.Direction = envelope.Down
		c.deliverDown(ctx, publisher, d2)
	}
	return nil
}

func (c *RoutingCore) deliverUp(ctx context.Context, publisher *Actor, env *envelope.Envelope) {
	parentID, ok := publisher.GetParent()
	if !ok {
		return
	}
	c.deliverTo(ctx, parentID, env)
}

func (c *RoutingCore) deliverDown(ctx context.Context, publisher *Actor, env *envelope.Envelope) {
	for _, childID := range publisher.GetChildren() {
		c.deliverTo(ctx, childID, env.Clone())
	}
}

func (c *RoutingCore) deliverTo(ctx context.Context, targetID uuid.UUID, env *envelope.Envelope) {
	target, ok := c.registry.Lookup(targetID)
	if !ok {
		c.logger.Warn(ctx, "temporal routing: target not found, dropping", "target_id", targetID, "envelope_id", env.ID)
		return
	}
	if err := target.Deliver(ctx, env); err != nil {
		c.logger.Warn(ctx, "temporal routing: deliver failed", "target_id", targetID, "envelope_id", env.ID, "error", err)
		return
	}
	c.metrics.IncCounter("kernel.temporal_routing.delivered", 1, "direction", env.Direction.String())
}
