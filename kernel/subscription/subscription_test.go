package subscription_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/envelope"
	"github.com/agentkernel/agentkernel/kernel/stream"
	"github.com/agentkernel/agentkernel/kernel/stream/memory"
	"github.com/agentkernel/agentkernel/kernel/subscription"
)

type resolver struct {
	mu      sync.Mutex
	streams map[uuid.UUID]stream.Stream
}

func newResolver() *resolver { return &resolver{streams: make(map[uuid.UUID]stream.Stream)} }

func (r *resolver) ResolveStream(_ context.Context, agentID uuid.UUID) (stream.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[agentID]
	if !ok {
		s = memory.New(stream.Options{}, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
		r.streams[agentID] = s
	}
	return s, nil
}

type greeting struct{ Text string }

func TestSubscribe_FiltersSelfPublishedEnvelopes(t *testing.T) {
	res := newResolver()
	mgr := subscription.New(res, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())

	parentID, childID := uuid.New(), uuid.New()
	received := make(chan string, 2)
	h, err := mgr.Subscribe(context.Background(), parentID, childID, func(_ context.Context, env *envelope.Envelope) error {
		payload, err := envelope.Unpack[greeting](env)
		require.NoError(t, err)
		received <- payload.Text
		return nil
	}, subscription.None{})
	require.NoError(t, err)
	defer h.Unsubscribe()

	str, err := res.ResolveStream(context.Background(), childID)
	require.NoError(t, err)

	selfEnv, err := envelope.New(childID, greeting{Text: "self"}, envelope.Up, "", 0)
	require.NoError(t, err)
	require.NoError(t, str.Produce(context.Background(), selfEnv))

	otherEnv, err := envelope.New(uuid.New(), greeting{Text: "other"}, envelope.Up, "", 0)
	require.NoError(t, err)
	require.NoError(t, str.Produce(context.Background(), otherEnv))

	select {
	case got := <-received:
		require.Equal(t, "other", got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the non-self envelope to be delivered")
	}

	select {
	case <-received:
		t.Fatal("self-published envelope should have been filtered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnect_PreservesSubscriptionID(t *testing.T) {
	res := newResolver()
	mgr := subscription.New(res, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())

	parentID, childID := uuid.New(), uuid.New()
	h, err := mgr.Subscribe(context.Background(), parentID, childID, func(context.Context, *envelope.Envelope) error { return nil }, subscription.None{})
	require.NoError(t, err)

	id := h.ID()
	require.True(t, h.IsHealthy())

	h.Unsubscribe()
	require.False(t, h.IsHealthy())

	require.NoError(t, mgr.Reconnect(context.Background(), h))
	require.Equal(t, id, h.ID())
	require.True(t, h.IsHealthy())
}

func TestGetActiveSubscriptions_TracksLifecycle(t *testing.T) {
	res := newResolver()
	mgr := subscription.New(res, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())

	parentID, childID := uuid.New(), uuid.New()
	h, err := mgr.Subscribe(context.Background(), parentID, childID, func(context.Context, *envelope.Envelope) error { return nil }, subscription.None{})
	require.NoError(t, err)

	active := mgr.GetActiveSubscriptions()
	require.Len(t, active, 1)
	require.Equal(t, h.ID(), active[0].ID())

	h.Unsubscribe()
	require.Empty(t, mgr.GetActiveSubscriptions())

	require.NoError(t, mgr.Reconnect(context.Background(), h))
	active = mgr.GetActiveSubscriptions()
	require.Len(t, active, 1)
	require.True(t, h.IsHealthy())
}

func TestDo_StopsOnNonTransientError(t *testing.T) {
	attempts := 0
	err := subscription.Do(context.Background(), subscription.Fixed{Attempts: 5, Interval: time.Millisecond}, func(context.Context) error {
		attempts++
		return &subscription.NonTransientError{Cause: errors.New("bad argument")}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	attempts := 0
	err := subscription.Do(context.Background(), subscription.Fixed{Attempts: 5, Interval: time.Millisecond}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestExponential_DelayGrows(t *testing.T) {
	p := subscription.Exponential{Attempts: 5, Initial: 10 * time.Millisecond, Multiplier: 2, Max: 1 * time.Second}
	require.Equal(t, 10*time.Millisecond, p.NextDelay(1))
	require.Equal(t, 20*time.Millisecond, p.NextDelay(2))
	require.Equal(t, 40*time.Millisecond, p.NextDelay(3))
}

func TestLinear_DelayCapsAtMax(t *testing.T) {
	p := subscription.Linear{Attempts: 5, Increment: 100 * time.Millisecond, Max: 250 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, p.NextDelay(1))
	require.Equal(t, 200*time.Millisecond, p.NextDelay(2))
	require.Equal(t, 250*time.Millisecond, p.NextDelay(3))
}
