package routing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/actor"
	"github.com/agentkernel/agentkernel/kernel/agent"
	"github.com/agentkernel/agentkernel/kernel/envelope"
	"github.com/agentkernel/agentkernel/kernel/routing"
	"github.com/agentkernel/agentkernel/kernel/stream"
	"github.com/agentkernel/agentkernel/kernel/stream/memory"
)

type fakeRegistry struct {
	mu     sync.RWMutex
	actors map[uuid.UUID]*actor.Actor
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{actors: make(map[uuid.UUID]*actor.Actor)} }

func (r *fakeRegistry) Lookup(id uuid.UUID) (*actor.Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	return a, ok
}

func (r *fakeRegistry) add(a *actor.Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actors[a.ID()] = a
}

type hello struct{ Text string }

func newTestActor(t *testing.T, reg *fakeRegistry, core *routing.Core, onReceive func(hello)) *actor.Actor {
	t.Helper()
	id := uuid.New()
	base := agent.NewBase(id)
	if onReceive != nil {
		agent.RegisterHandler(base, func(_ context.Context, payload hello) error {
			onReceive(payload)
			return nil
		})
	}
	str := memory.New(stream.Options{}, telemetry.NewNoopLogger(), telemetry.NewNoopMetrics())
	a := actor.New(id, base, str, core, actor.Options{})
	reg.add(a)
	require.NoError(t, a.Activate(context.Background()))
	return a
}

func TestSelfEchoSuppression_UpDirectionNoParent(t *testing.T) {
	reg := newFakeRegistry()
	core := routing.New(reg, nil, nil, nil)

	var mu sync.Mutex
	var received int
	a := newTestActor(t, reg, core, func(hello) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	_, err := a.PublishEvent(context.Background(), hello{Text: "hi"}, envelope.Up)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, received)
}

func TestSelfDirection_HandlerInvokedOnce(t *testing.T) {
	reg := newFakeRegistry()
	core := routing.New(reg, nil, nil, nil)

	done := make(chan struct{}, 2)
	a := newTestActor(t, reg, core, func(hello) { done <- struct{}{} })

	_, err := a.PublishEvent(context.Background(), hello{Text: "hi"}, envelope.Self)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
	select {
	case <-done:
		t.Fatal("handler invoked more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestParentChild_DownThenUp(t *testing.T) {
	reg := newFakeRegistry()
	core := routing.New(reg, nil, nil, nil)

	var parentMu sync.Mutex
	parentReceived := 0
	parent := newTestActor(t, reg, core, func(hello) {
		parentMu.Lock()
		parentReceived++
		parentMu.Unlock()
	})

	const numChildren = 3
	childDone := make(chan struct{}, numChildren)
	children := make([]*actor.Actor, numChildren)
	for i := 0; i < numChildren; i++ {
		children[i] = newTestActor(t, reg, core, func(hello) { childDone <- struct{}{} })
		require.NoError(t, parent.AddChild(children[i].ID()))
		require.NoError(t, children[i].SetParent(parent.ID()))
	}

	_, err := parent.PublishEvent(context.Background(), hello{Text: "work"}, envelope.Down)
	require.NoError(t, err)

	for i := 0; i < numChildren; i++ {
		select {
		case <-childDone:
		case <-time.After(2 * time.Second):
			t.Fatalf("child %d never received the envelope", i)
		}
	}

	for _, c := range children {
		_, err := c.PublishEvent(context.Background(), hello{Text: "done"}, envelope.Up)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		parentMu.Lock()
		defer parentMu.Unlock()
		return parentReceived == numChildren
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHopBound_DropsAfterMaxHops(t *testing.T) {
	reg := newFakeRegistry()
	core := routing.New(reg, nil, nil, nil)

	done := make(chan struct{}, 1)
	a := newTestActor(t, reg, core, func(hello) { done <- struct{}{} })

	env, err := envelope.New(a.ID(), hello{Text: "hi"}, envelope.Self, "", 1)
	require.NoError(t, err)
	env.CurrentHops = 1 // already at max_hops
	require.NoError(t, core.Route(context.Background(), a, env))

	select {
	case <-done:
		t.Fatal("envelope should have been dropped at the hop bound")
	case <-time.After(200 * time.Millisecond):
	}
}
