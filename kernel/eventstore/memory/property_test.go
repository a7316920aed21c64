package memory_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentkernel/agentkernel/kernel/eventstore"
	"github.com/agentkernel/agentkernel/kernel/eventstore/memory"
)

// TestMonotoneVersionsProperty verifies that for any sequence of successful
// appends, GetEvents returns events sorted by version, with versions
// consecutive from 1..V and no gaps.
func TestMonotoneVersionsProperty(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("append batches in sequence produce a gap-free, sorted version range", prop.ForAll(
		func(batchSizes []uint8) bool {
			store := memory.New()
			ctx := context.Background()
			agentID := uuid.New()

			var expected int64
			for _, sz := range batchSizes {
				n := int(sz%5) + 1
				batch := make([]eventstore.StoredEvent, n)
				for i := range batch {
					batch[i].EventType = "Tick"
				}
				v, err := store.AppendEvents(ctx, agentID, batch, expected)
				if err != nil {
					return false
				}
				expected += int64(n)
				if v != expected {
					return false
				}
			}

			events, err := store.GetEvents(ctx, agentID, eventstore.GetEventsOptions{})
			if err != nil {
				return false
			}
			if int64(len(events)) != expected {
				return false
			}
			for i, e := range events {
				if e.Version != int64(i+1) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8Range(0, 4)),
	))

	properties.TestingRun(t)
}

// TestOptimisticSafetyProperty verifies invariant 2 for two AppendEvents
// calls issued one after the other with the same expected version: exactly
// one succeeds and the store ends up containing only the winner's events.
// The truly concurrent case is covered by
// TestAppendEvents_ConcurrentBatchesExactlyOneWins.
func TestOptimisticSafetyProperty(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one of two appends at the same expected version succeeds", prop.ForAll(
		func(seedCount, batchA, batchB uint8) bool {
			store := memory.New()
			ctx := context.Background()
			agentID := uuid.New()

			seed := int(seedCount % 5)
			if seed > 0 {
				if _, err := store.AppendEvents(ctx, agentID, make([]eventstore.StoredEvent, seed), 0); err != nil {
					return false
				}
			}

			nA := int(batchA%3) + 1
			nB := int(batchB%3) + 1

			_, errA := store.AppendEvents(ctx, agentID, make([]eventstore.StoredEvent, nA), int64(seed))
			_, errB := store.AppendEvents(ctx, agentID, make([]eventstore.StoredEvent, nB), int64(seed))

			succeeded := 0
			if errA == nil {
				succeeded++
			}
			if errB == nil {
				succeeded++
			}
			if succeeded != 1 {
				return false
			}

			latest, err := store.GetLatestVersion(ctx, agentID)
			if err != nil {
				return false
			}
			if errA == nil {
				return latest == int64(seed+nA)
			}
			return latest == int64(seed+nB)
		},
		gen.UInt8Range(0, 4),
		gen.UInt8Range(0, 2),
		gen.UInt8Range(0, 2),
	))

	properties.TestingRun(t)
}
