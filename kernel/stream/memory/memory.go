// Package memory provides an in-process Stream implementation backed by a
// single dispatch goroutine and one worker goroutine per subscriber. It is
// the default substrate used when no external message broker is configured.
package memory

import (
	"context"
	"sync"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/envelope"
	"github.com/agentkernel/agentkernel/kernel/stream"
)

type (
	// Stream is an in-process stream.Stream. Produce enqueues onto a
	// bounded channel drained by a single dispatch goroutine; the dispatch
	// goroutine never calls subscriber handlers directly, it only appends
	// to each subscriber's own unbounded queue and signals that
	// subscriber's worker goroutine. This way one stalled subscriber grows
	// its own queue instead of blocking dispatch to the others.
	Stream struct {
		opts    stream.Options
		logger  telemetry.Logger
		metrics telemetry.Metrics

		buf chan *envelope.Envelope

		mu     sync.Mutex
		subs   map[*subscription]struct{}
		closed bool
		done   chan struct{}
	}

	subscription struct {
		stream  *Stream
		handler stream.Handler
		filter  stream.Filter

		mu     sync.Mutex
		cond   *sync.Cond
		queue  []*envelope.Envelope
		active bool
		paused bool
		closed bool
	}
)

var _ stream.Stream = (*Stream)(nil)
var _ stream.SubscriptionHandle = (*subscription)(nil)

// New constructs an in-process Stream and starts its dispatch goroutine.
func New(opts stream.Options, logger telemetry.Logger, metrics telemetry.Metrics) *Stream {
	if opts.Capacity <= 0 {
		opts.Capacity = stream.DefaultCapacity
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	s := &Stream{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		buf:     make(chan *envelope.Envelope, opts.Capacity),
		subs:    make(map[*subscription]struct{}),
		done:    make(chan struct{}),
	}
	go s.dispatchLoop()
	return s
}

// Produce implements stream.Stream.
func (s *Stream) Produce(ctx context.Context, env *envelope.Envelope) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errClosed
	}
	select {
	case s.buf <- env:
		s.metrics.IncCounter("kernel.stream.produced", 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errClosed
	}
}

// Subscribe implements stream.Stream.
func (s *Stream) Subscribe(handler stream.Handler, filter stream.Filter) stream.SubscriptionHandle {
	sub := &subscription{stream: s, handler: handler, filter: filter, active: true}
	sub.cond = sync.NewCond(&sub.mu)

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.worker()
	return sub
}

// Close implements stream.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

func (s *Stream) dispatchLoop() {
	for {
		select {
		case env := <-s.buf:
			s.fanOut(env)
		case <-s.done:
			return
		}
	}
}

func (s *Stream) fanOut(env *envelope.Envelope) {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.enqueue(env)
	}
}

func (sub *subscription) enqueue(env *envelope.Envelope) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed || sub.paused {
		return
	}
	if sub.filter != nil && !sub.filter(env) {
		return
	}
	sub.queue = append(sub.queue, env)
	sub.cond.Signal()
}

// worker drains the subscription's own queue one envelope at a time,
// isolating a slow or erroring handler from the rest of the stream.
func (sub *subscription) worker() {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if sub.closed {
			sub.mu.Unlock()
			return
		}
		env := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		sub.dispatch(env)
	}
}

func (sub *subscription) dispatch(env *envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			sub.stream.logger.Error(context.Background(), "stream subscriber panicked", "recover", r)
			sub.stream.metrics.IncCounter("kernel.stream.handler_panic", 1)
		}
	}()
	if err := sub.handler(context.Background(), env); err != nil {
		sub.stream.logger.Warn(context.Background(), "stream subscriber returned error", "error", err)
		sub.stream.metrics.IncCounter("kernel.stream.handler_error", 1)
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
	sub.cond.Broadcast()
	sub.mu.Unlock()

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
	sub.paused = true
	sub.active = false
}

// Resume implements stream.SubscriptionHandle.
func (sub *subscription) Resume() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.paused = false
	sub.active = true
}

// IsActive implements stream.SubscriptionHandle.
func (sub *subscription) IsActive() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.active
}
