package factory_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/agent"
	"github.com/agentkernel/agentkernel/kernel/factory"
	"github.com/agentkernel/agentkernel/kernel/routing"
	"github.com/agentkernel/agentkernel/kernel/stream"
	"github.com/agentkernel/agentkernel/kernel/stream/memory"
)

type ping struct{ N int }

func newEcho(id uuid.UUID) (agent.Agent, error) {
	base := agent.NewBase(id)
	agent.RegisterHandler(base, func(_ context.Context, _ ping) error { return nil })
	return base, nil
}

func newFactory(t *testing.T) (*factory.Factory, *factory.Registry) {
	t.Helper()
	reg := factory.NewRegistry()
	core := routing.New(reg, nil, nil, nil)
	streams := func(uuid.UUID) (stream.Stream, error) {
		return memory.New(stream.Options{}, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics()), nil
	}
	types := factory.NewTypeRegistry()
	types.RegisterType("echo", newEcho)
	f := factory.New(reg, types, core, streams, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	return f, reg
}

func TestCreate_RegistersAndActivates(t *testing.T) {
	f, reg := newFactory(t)
	id := uuid.New()

	a, err := f.Create(context.Background(), id, newEcho)
	require.NoError(t, err)
	require.Equal(t, id, a.ID())

	got, ok := reg.Lookup(id)
	require.True(t, ok)
	require.Same(t, a, got)
}

func TestCreate_DuplicateIDRejected(t *testing.T) {
	f, _ := newFactory(t)
	id := uuid.New()

	_, err := f.Create(context.Background(), id, newEcho)
	require.NoError(t, err)

	_, err = f.Create(context.Background(), id, newEcho)
	require.Error(t, err)
	var dup *factory.DuplicateAgentIDError
	require.ErrorAs(t, err, &dup)
}

func TestCreateByType_UsesRegisteredConstructor(t *testing.T) {
	f, _ := newFactory(t)
	id := uuid.New()

	a, err := f.CreateByType(context.Background(), "echo", id)
	require.NoError(t, err)
	require.Equal(t, id, a.ID())

	_, err = f.CreateByType(context.Background(), "does-not-exist", uuid.New())
	require.Error(t, err)
}

func TestManager_GetTracksLastActivity(t *testing.T) {
	f, reg := newFactory(t)
	mgr := factory.NewManager(reg, telemetry.NewNoopLogger())
	id := uuid.New()

	_, err := f.Create(context.Background(), id, newEcho)
	require.NoError(t, err)

	_, ok := mgr.Get(id)
	require.True(t, ok)

	stats := mgr.Statistics()
	_, tracked := stats[id]
	require.True(t, tracked)
	require.Equal(t, 1, mgr.Count())
}

func TestManager_DeactivateAndUnregister(t *testing.T) {
	f, reg := newFactory(t)
	mgr := factory.NewManager(reg, telemetry.NewNoopLogger())
	id := uuid.New()

	_, err := f.Create(context.Background(), id, newEcho)
	require.NoError(t, err)
	require.Equal(t, 1, mgr.Count())

	require.NoError(t, mgr.DeactivateAndUnregister(context.Background(), id))
	require.Equal(t, 0, mgr.Count())
	require.False(t, mgr.Exists(id))

	// deactivating a missing id is a no-op, not an error
	require.NoError(t, mgr.DeactivateAndUnregister(context.Background(), uuid.New()))
}

func TestManager_DeactivateAll(t *testing.T) {
	f, reg := newFactory(t)
	mgr := factory.NewManager(reg, telemetry.NewNoopLogger())

	for i := 0; i < 3; i++ {
		_, err := f.Create(context.Background(), uuid.New(), newEcho)
		require.NoError(t, err)
	}
	require.Equal(t, 3, mgr.Count())

	mgr.DeactivateAll(context.Background())
	require.Equal(t, 0, mgr.Count())
	require.Empty(t, mgr.GetAll())
}
