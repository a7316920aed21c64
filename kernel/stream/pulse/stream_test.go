package pulse_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/envelope"
	"github.com/agentkernel/agentkernel/kernel/stream/pulse"
	clientspulse "github.com/agentkernel/agentkernel/kernel/stream/pulse/clients/pulse"
)

// fakeClient, fakeStream, and fakeSink implement the clientspulse interfaces
// entirely in memory, so the wiring between kernel/stream/pulse and Pulse's
// transport surface can be exercised without a Redis instance.
type fakeClient struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
}

func newFakeClient() *fakeClient { return &fakeClient{streams: make(map[string]*fakeStream)} }

func (c *fakeClient) Stream(name string) (clientspulse.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{name: name}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(context.Context) error { return nil }

type fakeStream struct {
	name string

	mu   sync.Mutex
	subs []chan *streaming.Event
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt := &streaming.Event{EventName: event, Payload: payload}
	for _, ch := range s.subs {
		ch <- evt
	}
	return uuid.New().String(), nil
}

func (s *fakeStream) NewSink(context.Context, string) (clientspulse.Sink, error) {
	ch := make(chan *streaming.Event, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return &fakeSink{ch: ch}, nil
}

func (s *fakeStream) Destroy(context.Context) error { return nil }

type fakeSink struct {
	ch chan *streaming.Event
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }
func (s *fakeSink) Ack(context.Context, *streaming.Event) error { return nil }
func (s *fakeSink) Close(context.Context)                       {}

func TestPulseStream_ProduceSubscribeRoundTrips(t *testing.T) {
	cli := newFakeClient()
	s, err := pulse.New(pulse.Options{
		Client:   cli,
		StreamID: "agent/agent-1",
		Logger:   telemetry.NewNoopLogger(),
		Metrics:  telemetry.NewNoopMetrics(),
	})
	require.NoError(t, err)

	received := make(chan string, 1)
	handle := s.Subscribe(func(_ context.Context, env *envelope.Envelope) error {
		payload, err := envelope.Unpack[string](env)
		require.NoError(t, err)
		received <- payload
		return nil
	}, nil)
	defer handle.Unsubscribe()

	time.Sleep(50 * time.Millisecond) // let the sink's consume goroutine start

	env, err := envelope.New(uuid.New(), "hello", envelope.Self, "", 0)
	require.NoError(t, err)
	require.NoError(t, s.Produce(context.Background(), env))

	select {
	case got := <-received:
		require.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPulseStream_MalformedPayloadDoesNotCrashSubscriber(t *testing.T) {
	cli := newFakeClient()
	s, err := pulse.New(pulse.Options{Client: cli, StreamID: "agent/agent-2"})
	require.NoError(t, err)

	calls := make(chan struct{}, 2)
	handle := s.Subscribe(func(_ context.Context, _ *envelope.Envelope) error {
		calls <- struct{}{}
		return nil
	}, nil)
	defer handle.Unsubscribe()

	time.Sleep(50 * time.Millisecond)

	str, err := cli.Stream("agent/agent-2")
	require.NoError(t, err)
	_, err = str.Add(context.Background(), "envelope", []byte("not json"))
	require.NoError(t, err)

	env, err := envelope.New(uuid.New(), "after-garbage", envelope.Self, "", 0)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = str.Add(context.Background(), "envelope", raw)
	require.NoError(t, err)

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never recovered after malformed payload")
	}
}
