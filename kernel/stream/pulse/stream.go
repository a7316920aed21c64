// Package pulse provides a Stream implementation backed by
// goa.design/pulse, for deployments where mailboxes must survive a single
// process and be consumed by multiple kernel instances.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"goa.design/pulse/streaming"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/envelope"
	clientspulse "github.com/agentkernel/agentkernel/kernel/stream/pulse/clients/pulse"
	"github.com/agentkernel/agentkernel/kernel/stream"
)

const envelopeEventName = "envelope"

type (
	// Options configures a Pulse-backed Stream.
	Options struct {
		// Client is the Pulse client used to publish and consume. Required.
		Client clientspulse.Client
		// StreamID names the underlying Pulse stream, typically the
		// receiving agent's id. Required.
		StreamID string
		// SinkName is the prefix of the Pulse consumer-group name each
		// subscription reads through; every subscription appends its own
		// suffix. Defaults to "agentkernel".
		SinkName string
		Logger   telemetry.Logger
		Metrics  telemetry.Metrics
	}

	// Stream is a stream.Stream backed by a Pulse stream/consumer-group
	// pair. Produce writes to the Pulse stream; each Subscribe spawns a
	// goroutine that opens its own sink and dispatches matching
	// envelopes to its handler, isolated from other subscriptions the same
	// way the in-process implementation isolates slow handlers.
	Stream struct {
		client   clientspulse.Client
		handle   clientspulse.Stream
		sinkName string
		logger   telemetry.Logger
		metrics  telemetry.Metrics

		mu   sync.Mutex
		subs map[*subscription]struct{}
	}

	subscription struct {
		stream  *Stream
		handler stream.Handler
		filter  stream.Filter
		cancel  context.CancelFunc

		mu     sync.Mutex
		active bool
		closed bool
	}
)

var _ stream.Stream = (*Stream)(nil)
var _ stream.SubscriptionHandle = (*subscription)(nil)

// New constructs a Pulse-backed Stream for the given stream ID.
func New(opts Options) (*Stream, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.StreamID == "" {
		return nil, errors.New("stream id is required")
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = "agentkernel"
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	handle, err := opts.Client.Stream(opts.StreamID)
	if err != nil {
		return nil, fmt.Errorf("pulse stream: open %q: %w", opts.StreamID, err)
	}
	return &Stream{
		client:   opts.Client,
		handle:   handle,
		sinkName: sinkName,
		logger:   logger,
		metrics:  metrics,
		subs:     make(map[*subscription]struct{}),
	}, nil
}

// Produce implements stream.Stream by publishing the envelope's JSON
// encoding to the underlying Pulse stream.
func (s *Stream) Produce(ctx context.Context, env *envelope.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse stream: marshal envelope: %w", err)
	}
	if _, err := s.handle.Add(ctx, envelopeEventName, raw); err != nil {
		return fmt.Errorf("pulse stream: add: %w", err)
	}
	s.metrics.IncCounter("kernel.stream.pulse.produced", 1)
	return nil
}

// Subscribe implements stream.Stream. Each subscription opens its own Pulse
// sink (consumer group member) so that one subscriber's processing pace
// never blocks delivery of the underlying stream entries to others; a
// distinct consumer-group name per subscription gives each its own
// independent cursor and pending-entry list.
func (s *Stream) Subscribe(handler stream.Handler, filter stream.Filter) stream.SubscriptionHandle {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{stream: s, handler: handler, filter: filter, cancel: cancel, active: true}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(ctx)
	return sub
}

// Close implements stream.Stream by unsubscribing every active subscription
// and destroying the underlying Pulse stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return s.handle.Destroy(context.Background())
}

func (sub *subscription) run(ctx context.Context) {
	sinkName := fmt.Sprintf("%s-%p", sub.stream.sinkName, sub)
	sink, err := sub.stream.handle.NewSink(ctx, sinkName)
	if err != nil {
		sub.stream.logger.Error(ctx, "pulse stream: open sink failed", "error", err)
		return
	}
	defer sink.Close(context.Background())

	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			sub.handle(ctx, sink, evt)
		}
	}
}

func (sub *subscription) handle(ctx context.Context, sink clientspulse.Sink, evt *streaming.Event) {
	sub.mu.Lock()
	paused := !sub.active
	sub.mu.Unlock()
	if paused {
		return
	}

	var env envelope.Envelope
	if err := json.Unmarshal(evt.Payload, &env); err != nil {
		sub.stream.logger.Error(ctx, "pulse stream: malformed envelope", "error", err)
		_ = sink.Ack(ctx, evt)
		return
	}
	if sub.filter != nil && !sub.filter(&env) {
		_ = sink.Ack(ctx, evt)
		return
	}

	sub.dispatch(ctx, &env)
	if err := sink.Ack(ctx, evt); err != nil {
		sub.stream.logger.Warn(ctx, "pulse stream: ack failed", "error", err)
	}
}

func (sub *subscription) dispatch(ctx context.Context, env *envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			sub.stream.logger.Error(ctx, "pulse stream subscriber panicked", "recover", r)
			sub.stream.metrics.IncCounter("kernel.stream.pulse.handler_panic", 1)
		}
	}()
	if err := sub.handler(ctx, env); err != nil {
		sub.stream.logger.Warn(ctx, "pulse stream subscriber returned error", "error", err)
		sub.stream.metrics.IncCounter("kernel.stream.pulse.handler_error", 1)
	}
}

// Unsubscribe implements stream.SubscriptionHandle.
func (sub *subscription) Unsubscribe() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.active = false
	sub.mu.Unlock()

	sub.cancel()
	sub.stream.mu.Lock()
	delete(sub.stream.subs, sub)
	sub.stream.mu.Unlock()
}

// Pause implements stream.SubscriptionHandle.
func (sub *subscription) Pause() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.active = false
}

// Resume implements stream.SubscriptionHandle.
func (sub *subscription) Resume() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.active = true
}

// IsActive implements stream.SubscriptionHandle.
func (sub *subscription) IsActive() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.active
}
