// Package temporal implements the Temporal-backed actor substrate: one
// agent is bound to one long-running Temporal workflow execution, and
// delivery is driven by Temporal signals rather than the in-process
// Stream. Temporal's single-workflow-goroutine execution model supplies
// the per-agent single-turn guarantee for free.
//
// Dispatch logic has side effects (it runs arbitrary agent handler code),
// so it cannot run directly in the workflow goroutine, which Temporal
// requires to be deterministic. Instead the workflow receives envelopes on
// a signal channel and hands each one to a Dispatch activity, which looks
// the live Agent up by id and calls its Dispatch method.
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/agent"
	"github.com/agentkernel/agentkernel/kernel/envelope"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions is
	// used to construct one.
	Client client.Client

	// ClientOptions constructs the client when Client is nil.
	ClientOptions *client.Options

	// TaskQueue is the queue the worker polls and workflows/activities are
	// started on. Required.
	TaskQueue string

	// DisableTracing skips installing the OTEL tracing interceptor.
	DisableTracing bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// Engine owns the Temporal client, the agent registry activities dispatch
// through, and the worker that executes AgentWorkflow/DispatchActivity.
type Engine struct {
	client      client.Client
	closeClient bool
	taskQueue   string
	worker      worker.Worker

	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu     sync.RWMutex
	agents map[uuid.UUID]agent.Agent
}

// New constructs an Engine, connecting a Temporal client if one was not
// supplied, and registers the workflow/activity used by every
// Temporal-backed Actor.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal: task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	c := opts.Client
	closeClient := false
	if c == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal: either Client or ClientOptions is required")
		}
		clientOpts := *opts.ClientOptions
		if !opts.DisableTracing {
			interceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("temporal: build tracing interceptor: %w", err)
			}
			clientOpts.Interceptors = append(clientOpts.Interceptors, interceptor)
		}
		var err error
		c, err = client.Dial(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal: dial client: %w", err)
		}
		closeClient = true
	}

	e := &Engine{
		client:      c,
		closeClient: closeClient,
		taskQueue:   opts.TaskQueue,
		logger:      logger,
		metrics:     metrics,
		agents:      make(map[uuid.UUID]agent.Agent),
	}

	w := worker.New(c, opts.TaskQueue, worker.Options{})
	w.RegisterWorkflow(AgentWorkflow)
	w.RegisterActivityWithOptions(e.dispatchActivity, activity.RegisterOptions{Name: activityNameDispatch})
	e.worker = w
	return e, nil
}

// Start runs the worker in the background until Close is called.
func (e *Engine) Start() error {
	if err := e.worker.Start(); err != nil {
		return fmt.Errorf("temporal: start worker: %w", err)
	}
	return nil
}

// Close stops the worker and, if the Engine opened its own client, closes
// it too.
func (e *Engine) Close() {
	e.worker.Stop()
	if e.closeClient {
		e.client.Close()
	}
}

func (e *Engine) register(id uuid.UUID, ag agent.Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[id] = ag
}

func (e *Engine) unregister(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.agents, id)
}

func (e *Engine) lookup(id uuid.UUID) (agent.Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ag, ok := e.agents[id]
	return ag, ok
}

// dispatchActivity is the Temporal activity registered on the worker. It
// runs outside the workflow goroutine, so calling into arbitrary agent
// handler code here does not violate workflow determinism.
func (e *Engine) dispatchActivity(ctx context.Context, agentID uuid.UUID, env *envelope.Envelope) error {
	ag, ok := e.lookup(agentID)
	if !ok {
		e.logger.Warn(ctx, "temporal: dispatch activity found no registered agent", "agent_id", agentID)
		return nil
	}
	return ag.Dispatch(ctx, env)
}
