package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/kernel/eventstore"
	"github.com/agentkernel/agentkernel/kernel/eventstore/memory"
)

func TestAppendAndGetEvents_MonotoneVersions(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	agentID := uuid.New()

	v, err := store.AppendEvents(ctx, agentID, []eventstore.StoredEvent{
		{EventType: "AccountCreated"},
	}, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = store.AppendEvents(ctx, agentID, []eventstore.StoredEvent{
		{EventType: "MoneyDeposited"},
		{EventType: "MoneyDeposited"},
	}, 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)

	events, err := store.GetEvents(ctx, agentID, eventstore.GetEventsOptions{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		require.Equal(t, int64(i+1), e.Version)
	}
}

func TestAppendEvents_ConcurrencyConflict(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	agentID := uuid.New()

	_, err := store.AppendEvents(ctx, agentID, []eventstore.StoredEvent{{EventType: "A"}}, 0)
	require.NoError(t, err)

	_, err = store.AppendEvents(ctx, agentID, []eventstore.StoredEvent{{EventType: "B"}}, 0)
	require.Error(t, err)
	var conflict *eventstore.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(0), conflict.ExpectedVersion)
	require.Equal(t, int64(1), conflict.ActualVersion)

	events, err := store.GetEvents(ctx, agentID, eventstore.GetEventsOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestAppendEvents_ConcurrentBatchesExactlyOneWins(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	agentID := uuid.New()

	_, err := store.AppendEvents(ctx, agentID, make([]eventstore.StoredEvent, 7), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = store.AppendEvents(ctx, agentID, make([]eventstore.StoredEvent, 2), 7)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)

	latest, err := store.GetLatestVersion(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, int64(9), latest)

	events, err := store.GetEvents(ctx, agentID, eventstore.GetEventsOptions{})
	require.NoError(t, err)
	require.Len(t, events, 9)
}

func TestSnapshot_RoundTrips(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	agentID := uuid.New()

	snap, err := store.GetLatestSnapshot(ctx, agentID)
	require.NoError(t, err)
	require.Nil(t, snap)

	err = store.SaveSnapshot(ctx, eventstore.Snapshot{AgentID: agentID, Version: 4, StateData: []byte(`{"balance":1300}`)})
	require.NoError(t, err)

	got, err := store.GetLatestSnapshot(ctx, agentID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, int64(4), got.Version)
	require.Equal(t, `{"balance":1300}`, string(got.StateData))
}

func TestDistinctAgents_DoNotBlockEachOther(t *testing.T) {
	t.Parallel()

	store := memory.New()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	va, err := store.AppendEvents(ctx, a, []eventstore.StoredEvent{{EventType: "A"}}, 0)
	require.NoError(t, err)
	vb, err := store.AppendEvents(ctx, b, []eventstore.StoredEvent{{EventType: "B"}, {EventType: "B"}}, 0)
	require.NoError(t, err)

	require.Equal(t, int64(1), va)
	require.Equal(t, int64(2), vb)
}
