// Package factory provides agent type discovery, instantiation, and the
// process-wide registry of live actors. Type discovery is explicit
// registration rather than reflection-based assembly scanning: concrete
// agent types are registered by name with a constructor during process
// startup, and the factory looks them up by that name at creation time.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/actor"
	"github.com/agentkernel/agentkernel/kernel/agent"
	"github.com/agentkernel/agentkernel/kernel/stream"
)

type (
	// Constructor builds a fresh Agent for id. Registered once per agent
	// type, typically in that type's package init or the process's wiring
	// code.
	Constructor func(id uuid.UUID) (agent.Agent, error)

	// StreamFactory creates the Stream a new Actor will own. Swappable so
	// the same Factory can target the in-process substrate or a
	// Pulse-backed one.
	StreamFactory func(id uuid.UUID) (stream.Stream, error)

	// Registry is the process-wide id -> Actor map. It implements
	// routing.Registry so the routing core can resolve delivery targets
	// through the same map the factory populates.
	Registry struct {
		mu     sync.RWMutex
		actors map[uuid.UUID]*actor.Actor
	}

	// TypeRegistry maps agent type names to their Constructor, populated
	// by explicit RegisterType calls rather than a reflective scan.
	TypeRegistry struct {
		mu    sync.RWMutex
		types map[string]Constructor
	}

	// Factory creates Actor instances: it instantiates the agent,
	// allocates its stream, wires the Actor, registers it, and activates
	// it.
	Factory struct {
		registry *Registry
		types    *TypeRegistry
		router   actor.Router
		streams  StreamFactory
		logger   telemetry.Logger
		metrics  telemetry.Metrics
	}

	// Manager tracks live actors for lookup and bulk lifecycle operations,
	// and records a last-activity timestamp updated on every successful
	// Get.
	Manager struct {
		registry *Registry
		logger   telemetry.Logger

		mu           sync.Mutex
		lastActivity map[uuid.UUID]time.Time
	}
)

// DuplicateAgentIDError is returned when Create is asked to instantiate an
// id that already has a live Actor in the registry.
type DuplicateAgentIDError struct {
	AgentID uuid.UUID
}

func (e *DuplicateAgentIDError) Error() string {
	return fmt.Sprintf("factory: agent %s already registered", e.AgentID)
}

// NewRegistry constructs an empty process-wide actor registry.
func NewRegistry() *Registry { return &Registry{actors: make(map[uuid.UUID]*actor.Actor)} }

// Lookup implements routing.Registry.
func (r *Registry) Lookup(id uuid.UUID) (*actor.Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	return a, ok
}

func (r *Registry) add(a *actor.Actor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actors[a.ID()]; exists {
		return false
	}
	r.actors[a.ID()] = a
	return true
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, id)
}

func (r *Registry) all() []*actor.Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actors := make([]*actor.Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	return actors
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}

// NewTypeRegistry constructs an empty agent-type registry.
func NewTypeRegistry() *TypeRegistry { return &TypeRegistry{types: make(map[string]Constructor)} }

// RegisterType records ctor under name. Calling it twice for the same name
// overwrites the previous registration.
func (t *TypeRegistry) RegisterType(name string, ctor Constructor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.types[name] = ctor
}

func (t *TypeRegistry) lookup(name string) (Constructor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ctor, ok := t.types[name]
	return ctor, ok
}

// New constructs a Factory. registry is the process-wide actor map shared
// with the routing core; types holds the explicit agent-type
// registrations used by CreateByType.
func New(registry *Registry, types *TypeRegistry, router actor.Router, streams StreamFactory, logger telemetry.Logger, metrics telemetry.Metrics) *Factory {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Factory{registry: registry, types: types, router: router, streams: streams, logger: logger, metrics: metrics}
}

// Create instantiates a new Actor for id using ctor directly, registers it,
// and activates it. Create rejects ids that already have a live Actor.
func (f *Factory) Create(ctx context.Context, id uuid.UUID, ctor Constructor) (*actor.Actor, error) {
	if _, exists := f.registry.Lookup(id); exists {
		return nil, &DuplicateAgentIDError{AgentID: id}
	}
	ag, err := ctor(id)
	if err != nil {
		return nil, fmt.Errorf("factory: construct agent %s: %w", id, err)
	}
	str, err := f.streams(id)
	if err != nil {
		return nil, fmt.Errorf("factory: create stream for agent %s: %w", id, err)
	}
	a := actor.New(id, ag, str, f.router, actor.Options{Logger: f.logger})

	if !f.registry.add(a) {
		return nil, &DuplicateAgentIDError{AgentID: id}
	}
	if err := a.Activate(ctx); err != nil {
		f.registry.remove(id)
		return nil, fmt.Errorf("factory: activate agent %s: %w", id, err)
	}
	f.metrics.IncCounter("kernel.factory.created", 1)
	return a, nil
}

// CreateByType instantiates a new Actor for id using the Constructor
// registered under typeName. Returns an error if no type was registered
// under that name.
func (f *Factory) CreateByType(ctx context.Context, typeName string, id uuid.UUID) (*actor.Actor, error) {
	ctor, ok := f.types.lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("factory: no agent type registered as %q", typeName)
	}
	return f.Create(ctx, id, ctor)
}

// NewManager constructs a Manager over the same registry a Factory
// populates.
func NewManager(registry *Registry, logger telemetry.Logger) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Manager{registry: registry, logger: logger, lastActivity: make(map[uuid.UUID]time.Time)}
}

// Get returns the actor for id, updating its last-activity timestamp on
// success.
func (m *Manager) Get(id uuid.UUID) (*actor.Actor, bool) {
	a, ok := m.registry.Lookup(id)
	if ok {
		m.mu.Lock()
		m.lastActivity[id] = time.Now()
		m.mu.Unlock()
	}
	return a, ok
}

// GetAll returns every currently registered actor.
func (m *Manager) GetAll() []*actor.Actor { return m.registry.all() }

// Exists reports whether id has a live actor, without updating activity.
func (m *Manager) Exists(id uuid.UUID) bool {
	_, ok := m.registry.Lookup(id)
	return ok
}

// Count returns the number of live actors.
func (m *Manager) Count() int { return m.registry.count() }

// DeactivateAndUnregister deactivates the actor for id and removes it from
// the registry. A missing id is not an error.
func (m *Manager) DeactivateAndUnregister(ctx context.Context, id uuid.UUID) error {
	a, ok := m.registry.Lookup(id)
	if !ok {
		return nil
	}
	if err := a.Deactivate(ctx); err != nil {
		return fmt.Errorf("factory: deactivate agent %s: %w", id, err)
	}
	m.registry.remove(id)
	m.mu.Lock()
	delete(m.lastActivity, id)
	m.mu.Unlock()
	return nil
}

// DeactivateAll deactivates and unregisters every live actor. Errors are
// logged, not aggregated; DeactivateAll always attempts every actor.
func (m *Manager) DeactivateAll(ctx context.Context) {
	for _, a := range m.registry.all() {
		if err := m.DeactivateAndUnregister(ctx, a.ID()); err != nil {
			m.logger.Warn(ctx, "factory: deactivate all encountered an error", "agent_id", a.ID(), "error", err)
		}
	}
}

// Statistics returns a snapshot of last-activity timestamps keyed by agent
// id, reflecting only ids observed through Get.
func (m *Manager) Statistics() map[uuid.UUID]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[uuid.UUID]time.Time, len(m.lastActivity))
	for id, t := range m.lastActivity {
		snapshot[id] = t
	}
	return snapshot
}
