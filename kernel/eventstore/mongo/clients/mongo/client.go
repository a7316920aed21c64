// Package mongo implements the low-level MongoDB client used by the
// Mongo-backed event store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/agentkernel/agentkernel/kernel/eventstore"
)

type (
	// Client exposes Mongo-backed operations for the event log and
	// snapshot collections.
	Client interface {
		Ping(ctx context.Context) error

		AppendEvents(ctx context.Context, agentID uuid.UUID, events []eventstore.StoredEvent, expectedVersion int64) (int64, error)
		GetEvents(ctx context.Context, agentID uuid.UUID, opts eventstore.GetEventsOptions) ([]eventstore.StoredEvent, error)
		GetLatestVersion(ctx context.Context, agentID uuid.UUID) (int64, error)
		SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error
		GetLatestSnapshot(ctx context.Context, agentID uuid.UUID) (*eventstore.Snapshot, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client            *mongodriver.Client
		Database          string
		EventsCollection  string
		SnapshotCollection string
		Timeout           time.Duration
	}

	client struct {
		mongo    *mongodriver.Client
		events   *mongodriver.Collection
		snaps    *mongodriver.Collection
		timeout  time.Duration
	}

	eventDocument struct {
		EventID   string            `bson:"event_id"`
		AgentID   string            `bson:"agent_id"`
		Version   int64             `bson:"version"`
		EventType string            `bson:"event_type"`
		EventData []byte            `bson:"event_data"`
		Metadata  map[string]string `bson:"metadata"`
		Timestamp time.Time         `bson:"timestamp"`
	}

	snapshotDocument struct {
		AgentID   string    `bson:"_id"`
		Version   int64     `bson:"version"`
		StateData []byte    `bson:"state_data"`
		Timestamp time.Time `bson:"timestamp"`
	}
)

const (
	defaultEventsCollection   = "agent_events"
	defaultSnapshotCollection = "agent_snapshots"
	defaultTimeout            = 5 * time.Second
)

// New returns a Client backed by the provided MongoDB client, enforcing a
// unique (agent_id, version) index so the concurrency invariant holds even
// if two processes race past the application-level check.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	eventsColl := opts.EventsCollection
	if eventsColl == "" {
		eventsColl = defaultEventsCollection
	}
	snapColl := opts.SnapshotCollection
	if snapColl == "" {
		snapColl = defaultSnapshotCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	events := db.Collection(eventsColl)
	snaps := db.Collection(snapColl)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "agent_id", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := events.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("ensure event index: %w", err)
	}

	return &client{mongo: opts.Client, events: events, snaps: snaps, timeout: timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// AppendEvents performs the optimistic-concurrency check by reading the
// current max version inside the operation, then inserting the batch. The
// unique index on (agent_id, version) is the second line of defense against
// a concurrent writer slipping in between the check and the insert.
func (c *client) AppendEvents(ctx context.Context, agentID uuid.UUID, events []eventstore.StoredEvent, expectedVersion int64) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	current, err := c.GetLatestVersion(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if current != expectedVersion {
		return 0, &eventstore.ConcurrencyConflictError{AgentID: agentID, ExpectedVersion: expectedVersion, ActualVersion: current}
	}

	docs := make([]any, len(events))
	for i, e := range events {
		eventID := e.EventID
		if eventID == (uuid.UUID{}) {
			eventID = uuid.New()
		}
		docs[i] = eventDocument{
			EventID:   eventID.String(),
			AgentID:   agentID.String(),
			Version:   expectedVersion + int64(i) + 1,
			EventType: e.EventType,
			EventData: append([]byte(nil), e.EventData...),
			Metadata:  e.Metadata,
			Timestamp: e.Timestamp.UTC(),
		}
	}
	if _, err := c.events.InsertMany(ctx, docs); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			actual, verErr := c.GetLatestVersion(ctx, agentID)
			if verErr != nil {
				return 0, verErr
			}
			return 0, &eventstore.ConcurrencyConflictError{AgentID: agentID, ExpectedVersion: expectedVersion, ActualVersion: actual}
		}
		return 0, err
	}
	return expectedVersion + int64(len(events)), nil
}

func (c *client) GetEvents(ctx context.Context, agentID uuid.UUID, opts eventstore.GetEventsOptions) ([]eventstore.StoredEvent, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	from := opts.FromVersion
	if from <= 0 {
		from = 1
	}
	filter := bson.M{"agent_id": agentID.String(), "version": bson.M{"$gte": from}}
	if opts.ToVersion > 0 {
		filter["version"] = bson.M{"$gte": from, "$lte": opts.ToVersion}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	if opts.MaxCount > 0 {
		findOpts = findOpts.SetLimit(int64(opts.MaxCount))
	}

	cur, err := c.events.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []eventstore.StoredEvent
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		eventID, err := uuid.Parse(doc.EventID)
		if err != nil {
			return nil, err
		}
		result = append(result, eventstore.StoredEvent{
			EventID:   eventID,
			AgentID:   agentID,
			Version:   doc.Version,
			EventType: doc.EventType,
			EventData: append([]byte(nil), doc.EventData...),
			Metadata:  doc.Metadata,
			Timestamp: doc.Timestamp,
		})
	}
	return result, cur.Err()
}

func (c *client) GetLatestVersion(ctx context.Context, agentID uuid.UUID) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	findOpts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var doc eventDocument
	err := c.events.FindOne(ctx, bson.M{"agent_id": agentID.String()}, findOpts).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func (c *client) SaveSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := snapshotDocument{
		AgentID:   snap.AgentID.String(),
		Version:   snap.Version,
		StateData: append([]byte(nil), snap.StateData...),
		Timestamp: snap.Timestamp.UTC(),
	}
	_, err := c.snaps.ReplaceOne(ctx, bson.M{"_id": doc.AgentID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (c *client) GetLatestSnapshot(ctx context.Context, agentID uuid.UUID) (*eventstore.Snapshot, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc snapshotDocument
	err := c.snaps.FindOne(ctx, bson.M{"_id": agentID.String()}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &eventstore.Snapshot{
		AgentID:   agentID,
		Version:   doc.Version,
		StateData: append([]byte(nil), doc.StateData...),
		Timestamp: doc.Timestamp,
	}, nil
}
