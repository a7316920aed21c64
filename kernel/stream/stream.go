// Package stream defines the per-agent mailbox abstraction: a bounded queue
// of envelopes that agents produce into and subscribe to. Unlike a classic
// pub/sub bus, a Stream is scoped to a single logical channel (typically one
// per agent) and guarantees FIFO delivery per subscriber even when other
// subscribers on the same stream are slow or failing.
package stream

import (
	"context"
	"time"

	"github.com/agentkernel/agentkernel/kernel/envelope"
)

type (
	// Stream is a bounded, multi-subscriber channel of envelopes. Producers
	// call Produce; each active subscriber independently receives every
	// envelope produced after it subscribed, in the order Produce was
	// called. A slow or erroring subscriber must never stall delivery to
	// other subscribers or block the producer beyond the stream's capacity.
	Stream interface {
		// Produce enqueues an envelope for delivery to all current
		// subscribers. Produce blocks if the stream's internal buffer is
		// full, applying backpressure to the producer; it returns ctx's
		// error if ctx is canceled while waiting.
		Produce(ctx context.Context, env *envelope.Envelope) error

		// Subscribe registers handler to receive every envelope produced
		// from this point forward that satisfies filter (a nil filter
		// matches everything). The returned SubscriptionHandle controls the
		// subscription's lifecycle.
		Subscribe(handler Handler, filter Filter) SubscriptionHandle

		// Close shuts the stream down, unblocking any pending Produce calls
		// with an error and notifying all subscribers that no further
		// envelopes will arrive. Close is idempotent.
		Close() error
	}

	// Handler processes one envelope delivered to a subscription. A handler
	// that panics or returns an error has that failure isolated and logged;
	// it never propagates to the producer or to other subscribers.
	Handler func(ctx context.Context, env *envelope.Envelope) error

	// Filter decides whether an envelope should be delivered to a given
	// subscription. Filters run on the stream's dispatch goroutine and
	// should be cheap and non-blocking.
	Filter func(env *envelope.Envelope) bool

	// SubscriptionHandle controls one subscriber's relationship to a
	// Stream. It is safe for concurrent use.
	SubscriptionHandle interface {
		// Unsubscribe permanently stops delivery to this subscription and
		// releases its resources. Idempotent.
		Unsubscribe()

		// Pause temporarily stops delivery without releasing resources.
		// Envelopes produced while paused are dropped for this
		// subscription; they are not queued for later delivery.
		Pause()

		// Resume re-enables delivery after Pause. Resume on a subscription
		// that was never paused, or already unsubscribed, is a no-op.
		Resume()

		// IsActive reports whether the subscription is currently receiving
		// envelopes (neither paused nor unsubscribed).
		IsActive() bool
	}

	// Options configures a Stream implementation.
	Options struct {
		// Capacity bounds the number of envelopes buffered awaiting
		// dispatch before Produce starts blocking. Zero selects
		// DefaultCapacity.
		Capacity int

		// SlowSubscriberTimeout is carried in the options, but no Stream
		// implementation in this module reads it: handlers are not timed
		// out, and the in-process stream never waits on a handler because
		// each subscriber drains its own queue.
		SlowSubscriberTimeout time.Duration
	}
)

// DefaultCapacity is the buffer size used when Options.Capacity is zero.
const DefaultCapacity = 1000

// DefaultSlowSubscriberTimeout is a default value for
// Options.SlowSubscriberTimeout; like that field, no Stream implementation
// in this module reads it.
const DefaultSlowSubscriberTimeout = 30 * time.Second
