// Package esagent extends the base agent contract with event sourcing:
// staged event raising, an optimistic-concurrency commit algorithm, replay
// on activation, and a pluggable snapshot strategy.
package esagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/agentkernel/internal/telemetry"
	"github.com/agentkernel/agentkernel/kernel/agent"
	"github.com/agentkernel/agentkernel/kernel/eventstore"
)

type (
	// State is the contract an event-sourced agent's state type must
	// satisfy: a deep clone used by the commit algorithm so TransitionState
	// always mutates a fresh copy, never state another goroutine might be
	// reading.
	State interface {
		Clone() State
	}

	// Transitioner is implemented by the concrete agent: TransitionState
	// must be a pure function that mutates the supplied state in place and
	// performs no I/O, no PublishEvent, and no RaiseEvent.
	Transitioner interface {
		TransitionState(state State, event any) error
	}

	// SnapshotStrategy decides whether to snapshot after a successful
	// commit. ShouldSnapshot is consulted once per ConfirmEventsAsync call
	// with the version immediately after the commit and the number of
	// events appended since the last snapshot was taken.
	SnapshotStrategy interface {
		ShouldSnapshot(versionAfterCommit int64, eventsSinceLastSnapshot int64) bool
	}

	// IntervalSnapshotStrategy snapshots every N committed events.
	// DefaultSnapshotInterval (100) is used when N is zero.
	IntervalSnapshotStrategy struct {
		N int64
	}

	stagedEvent struct {
		payload  any
		metadata map[string]string
	}

	// Base is the event-sourced agent scaffolding. It embeds agent.Base
	// itself, so concrete agent types embed only esagent.Base, implement
	// Transitioner, and call RaiseEvent/ConfirmEventsAsync from their
	// handlers.
	Base struct {
		*agent.Base

		store    eventstore.Store
		strategy SnapshotStrategy
		codec    Codec
		logger   telemetry.Logger

		mu                      sync.Mutex
		state                   State
		currentVersion          int64
		eventsSinceLastSnapshot int64
		staged                  []stagedEvent
		transitioner            Transitioner
	}

	// Codec serializes/deserializes domain events for storage. The kernel
	// ships a JSON codec by default; agents with non-JSON payloads may
	// supply their own.
	Codec interface {
		Marshal(event any) ([]byte, string, error)
		Unmarshal(eventType string, data []byte) (any, error)
	}
)

// DefaultSnapshotInterval is the number of committed events between
// automatic snapshots when no explicit SnapshotStrategy is supplied.
const DefaultSnapshotInterval = 100

// ShouldSnapshot implements SnapshotStrategy.
func (s IntervalSnapshotStrategy) ShouldSnapshot(_ int64, eventsSinceLastSnapshot int64) bool {
	n := s.N
	if n <= 0 {
		n = DefaultSnapshotInterval
	}
	return eventsSinceLastSnapshot >= int64(n)
}

// NewBase constructs an event-sourced agent base. zeroState is the type's
// zero-value state, used as the starting point before any replay; it must
// be non-nil. transitioner is usually the concrete agent itself.
func NewBase(
	id uuid.UUID,
	zeroState State,
	transitioner Transitioner,
	store eventstore.Store,
	codec Codec,
	strategy SnapshotStrategy,
) *Base {
	if strategy == nil {
		strategy = IntervalSnapshotStrategy{}
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Base{
		Base:         agent.NewBase(id),
		store:        store,
		strategy:     strategy,
		codec:        codec,
		state:        zeroState,
		transitioner: transitioner,
	}
}

// GetState returns the agent's current in-memory state. Callers must treat
// the returned value as read-only; mutate only via RaiseEvent/TransitionState.
func (b *Base) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetCurrentVersion returns the agent's current event-log version.
func (b *Base) GetCurrentVersion() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentVersion
}

// RaiseEvent stages event for commit. Staging never mutates state and never
// persists; it only extends the in-memory batch that the next
// ConfirmEventsAsync call will attempt to commit.
func (b *Base) RaiseEvent(event any, metadata map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staged = append(b.staged, stagedEvent{payload: event, metadata: metadata})
}

// ConcurrencyConflictError is re-exported so callers of ConfirmEventsAsync
// can type-assert without importing eventstore directly.
type ConcurrencyConflictError = eventstore.ConcurrencyConflictError

// ConfirmEventsAsync commits every staged event as a single batch. On
// success the in-memory state is advanced by applying TransitionState to a
// clone for each committed event, in order, and the stage is cleared. On a
// concurrency conflict, the stage is discarded, the agent reloads the
// latest version and replays the events it missed, and the conflict is
// surfaced to the caller.
func (b *Base) ConfirmEventsAsync(ctx context.Context) error {
	b.mu.Lock()
	staged := b.staged
	b.staged = nil
	expectedVersion := b.currentVersion
	b.mu.Unlock()

	if len(staged) == 0 {
		return nil
	}

	records := make([]eventstore.StoredEvent, len(staged))
	for i, s := range staged {
		data, eventType, err := b.codec.Marshal(s.payload)
		if err != nil {
			return fmt.Errorf("esagent: marshal staged event %d: %w", i, err)
		}
		records[i] = eventstore.StoredEvent{
			EventID:   uuid.New(),
			AgentID:   b.ID(),
			Version:   expectedVersion + int64(i) + 1,
			EventType: eventType,
			EventData: data,
			Metadata:  s.metadata,
			Timestamp: time.Now().UTC(),
		}
	}

	newVersion, err := b.store.AppendEvents(ctx, b.ID(), records, expectedVersion)
	if err != nil {
		var conflict *eventstore.ConcurrencyConflictError
		if errors.As(err, &conflict) {
			if replayErr := b.catchUp(ctx); replayErr != nil && b.logger != nil {
				b.logger.Warn(ctx, "esagent: replay after concurrency conflict failed", "error", replayErr)
			}
			return err
		}
		return fmt.Errorf("esagent: append events: %w", err)
	}

	b.mu.Lock()
	for _, rec := range records {
		payload, err := b.codec.Unmarshal(rec.EventType, rec.EventData)
		if err != nil {
			b.mu.Unlock()
			return fmt.Errorf("esagent: decode committed event for transition: %w", err)
		}
		clone := b.state.Clone()
		if err := b.transitioner.TransitionState(clone, payload); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("esagent: transition state: %w", err)
		}
		b.state = clone
	}
	b.currentVersion = newVersion
	b.eventsSinceLastSnapshot += int64(len(records))
	shouldSnapshot := b.strategy.ShouldSnapshot(b.currentVersion, b.eventsSinceLastSnapshot)
	state := b.state
	version := b.currentVersion
	b.mu.Unlock()

	if shouldSnapshot {
		if err := b.snapshot(ctx, state, version); err != nil && b.logger != nil {
			b.logger.Warn(ctx, "esagent: snapshot failed", "error", err)
		}
	}
	return nil
}

func (b *Base) snapshot(ctx context.Context, state State, version int64) error {
	data, err := JSONMarshalState(state)
	if err != nil {
		return err
	}
	if err := b.store.SaveSnapshot(ctx, eventstore.Snapshot{
		AgentID:   b.ID(),
		Version:   version,
		StateData: data,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}
	b.mu.Lock()
	b.eventsSinceLastSnapshot = 0
	b.mu.Unlock()
	return nil
}

// catchUp reloads the latest version and replays missed events atop the
// current state, used after a concurrency conflict leaves the agent's
// in-memory version behind the store's.
func (b *Base) catchUp(ctx context.Context) error {
	b.mu.Lock()
	from := b.currentVersion + 1
	b.mu.Unlock()

	events, err := b.store.GetEvents(ctx, b.ID(), eventstore.GetEventsOptions{FromVersion: from})
	if err != nil {
		return err
	}
	return b.applyReplay(ctx, events)
}

// Replay implements the C6 activation contract: load the latest snapshot
// (if any), then apply every event after the snapshot's version. It is
// intended to be called from the concrete agent's OnActivate.
func (b *Base) Replay(ctx context.Context) error {
	snap, err := b.store.GetLatestSnapshot(ctx, b.ID())
	if err != nil {
		return fmt.Errorf("esagent: load snapshot: %w", err)
	}
	b.mu.Lock()
	if snap != nil {
		state, unmarshalErr := JSONUnmarshalStateInto(b.state, snap.StateData)
		if unmarshalErr != nil {
			b.mu.Unlock()
			return fmt.Errorf("esagent: unmarshal snapshot state: %w", unmarshalErr)
		}
		b.state = state
		b.currentVersion = snap.Version
		b.eventsSinceLastSnapshot = 0
	}
	from := b.currentVersion + 1
	b.mu.Unlock()

	events, err := b.store.GetEvents(ctx, b.ID(), eventstore.GetEventsOptions{FromVersion: from})
	if err != nil {
		return fmt.Errorf("esagent: load events for replay: %w", err)
	}
	return b.applyReplay(ctx, events)
}

// applyReplay applies events in order directly to the current state (no
// clone: the state object already in place is either fresh or was just
// installed from a snapshot, and nothing else observes it during replay).
// Unknown event types are skipped but still advance the version, preserving
// monotonic version progression.
func (b *Base) applyReplay(ctx context.Context, events []eventstore.StoredEvent) error {
	for _, ev := range events {
		payload, err := b.codec.Unmarshal(ev.EventType, ev.EventData)
		if err != nil {
			b.mu.Lock()
			b.currentVersion = ev.Version
			b.mu.Unlock()
			if b.logger != nil {
				b.logger.Warn(ctx, "esagent: skipping unknown event type during replay", "event_type", ev.EventType, "version", ev.Version)
			}
			continue
		}
		b.mu.Lock()
		if err := b.transitioner.TransitionState(b.state, payload); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("esagent: transition during replay: %w", err)
		}
		b.currentVersion = ev.Version
		b.eventsSinceLastSnapshot++
		b.mu.Unlock()
	}
	return nil
}

// SetLoggerAndPublish mirrors agent.Base's injection points in a single
// call that also sets this base's own logger. kernel/actor injects through
// SetLogger and SetPublishFunc instead, which leave this base's own logger
// unset.
func (b *Base) SetLoggerAndPublish(logger telemetry.Logger, publish agent.PublishFunc) {
	b.SetLogger(logger)
	b.SetPublishFunc(publish)
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// OnActivate implements the C6 activation contract: it replays the event
// log (snapshot plus trailing events) to rebuild state before the agent
// accepts external calls. Concrete agents that need their own activation
// logic should call esagent.Base.Replay directly from an overriding
// OnActivate rather than relying on this promoted method.
func (b *Base) OnActivate(ctx context.Context) error {
	return b.Replay(ctx)
}
