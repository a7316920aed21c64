package temporal

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/kernel/envelope"
)

// EnvelopeSignalName is the signal channel every AgentWorkflow listens on
// for inbound envelopes.
const EnvelopeSignalName = "kernel.envelope"

// StopSignalName tells a running AgentWorkflow to complete, mirroring
// Actor.Deactivate for the in-process substrate.
const StopSignalName = "kernel.stop"

// WorkflowParams starts one AgentWorkflow execution bound to AgentID.
type WorkflowParams struct {
	AgentID uuid.UUID
}

// AgentWorkflow binds one agent to one Temporal workflow execution for its
// entire activated lifetime. It receives envelopes on EnvelopeSignalName
// and hands each to the Dispatch activity in turn, preserving per-agent
// single-turn delivery: Temporal's single-workflow-goroutine model means
// only one dispatchActivity call from this workflow is ever in flight at a
// time.
func AgentWorkflow(ctx workflow.Context, params WorkflowParams) error {
	envelopeCh := workflow.GetSignalChannel(ctx, EnvelopeSignalName)
	stopCh := workflow.GetSignalChannel(ctx, StopSignalName)

	ao := workflow.ActivityOptions{StartToCloseTimeout: 30 * time.Second}
	ctx = workflow.WithActivityOptions(ctx, ao)

	stopped := false
	for !stopped {
		var env envelope.Envelope
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(envelopeCh, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, &env)
		})
		selector.AddReceive(stopCh, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, nil)
			stopped = true
		})
		selector.Select(ctx)
		if stopped {
			continue
		}

		if err := workflow.ExecuteActivity(ctx, activityNameDispatch, params.AgentID, &env).Get(ctx, nil); err != nil {
			workflow.GetLogger(ctx).Warn("agent workflow: dispatch activity failed", "agent_id", params.AgentID, "error", err)
		}
	}
	return nil
}

// activityNameDispatch names the registered dispatch activity explicitly
// so AgentWorkflow does not depend on Go's function-value registration
// name, which changes if the method is renamed.
const activityNameDispatch = "kernel.dispatch"
