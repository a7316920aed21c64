package agent_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/kernel/agent"
	"github.com/agentkernel/agentkernel/kernel/envelope"
)

type pingReceived struct{ Count int }

func TestDispatch_RoutesToRegisteredHandler(t *testing.T) {
	base := agent.NewBase(uuid.New())
	var got int
	agent.RegisterHandler(base, func(_ context.Context, payload pingReceived) error {
		got = payload.Count
		return nil
	})

	env, err := envelope.New(uuid.New(), pingReceived{Count: 3}, envelope.Self, "", 0)
	require.NoError(t, err)
	require.NoError(t, base.Dispatch(context.Background(), env))
	require.Equal(t, 3, got)
}

func TestDispatch_UnknownTypeIsNotAnError(t *testing.T) {
	base := agent.NewBase(uuid.New())
	env, err := envelope.New(uuid.New(), pingReceived{Count: 1}, envelope.Self, "", 0)
	require.NoError(t, err)
	require.NoError(t, base.Dispatch(context.Background(), env))
}

func TestPublishEvent_FailsWithoutInjectedCapability(t *testing.T) {
	base := agent.NewBase(uuid.New())
	_, err := base.PublishEvent(context.Background(), pingReceived{}, envelope.Self)
	require.Error(t, err)
}

func TestPublishEvent_DelegatesToInjectedFunc(t *testing.T) {
	base := agent.NewBase(uuid.New())
	var calledDirection envelope.Direction
	base.SetPublishFunc(func(_ context.Context, _ any, direction envelope.Direction) (uuid.UUID, error) {
		calledDirection = direction
		return uuid.New(), nil
	})
	id, err := base.PublishEvent(context.Background(), pingReceived{}, envelope.Down)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
	require.Equal(t, envelope.Down, calledDirection)
}
