package mongodb

import (
	"context"
	"errors"

	"reconciliation-engine/internal/domain/eventstore"

	"github.com/walletera/werrors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	eventsCollection    = "events"
	countersCollection  = "event_counters"
	snapshotsCollection = "snapshots"
)

// EventStore persists the append-only log in MongoDB. Per-aggregate
// sequences come from an atomically incremented counter document; the event
// id is the document _id, so retried appends with a pre-assigned id fail as
// duplicates instead of double-writing.
type EventStore struct {
	client *mongo.Client
	dbName string
}

var _ eventstore.Store = (*EventStore)(nil)

func NewEventStore(client *mongo.Client, dbName string) *EventStore {
	return &EventStore{client: client, dbName: dbName}
}

func (s *EventStore) Append(ctx context.Context, event eventstore.StoredEvent) werrors.WError {
	sequence, werr := s.nextSequence(ctx, event.AggregateId, event.AggregateType)
	if werr != nil {
		return werr
	}
	event.Sequence = sequence

	_, err := s.collection(eventsCollection).InsertOne(ctx, event)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return werrors.NewNonRetryableInternalError("duplicate event id: %s", event.EventId)
		}
		return werrors.NewRetryableInternalError("failed to append event: %s", err.Error())
	}
	return nil
}

func (s *EventStore) AppendMany(ctx context.Context, events []eventstore.StoredEvent) werrors.WError {
	if len(events) == 0 {
		return nil
	}
	session, err := s.client.StartSession()
	if err != nil {
		return werrors.NewRetryableInternalError("failed to start mongodb session: %s", err.Error())
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		for _, event := range events {
			sequence, werr := s.nextSequence(ctx, event.AggregateId, event.AggregateType)
			if werr != nil {
				return nil, werr
			}
			event.Sequence = sequence
			if _, err := s.collection(eventsCollection).InsertOne(ctx, event); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		var werr werrors.WError
		if errors.As(err, &werr) {
			return werr
		}
		if mongo.IsDuplicateKeyError(err) {
			return werrors.NewNonRetryableInternalError("duplicate event id in batch: %s", err.Error())
		}
		return werrors.NewRetryableInternalError("failed to append event batch: %s", err.Error())
	}
	return nil
}

func (s *EventStore) nextSequence(ctx context.Context, aggregateId string, aggregateType string) (int64, werrors.WError) {
	var counter struct {
		Sequence int64 `bson:"sequence"`
	}
	err := s.collection(countersCollection).FindOneAndUpdate(
		ctx,
		bson.M{"_id": aggregateType + "/" + aggregateId},
		bson.M{"$inc": bson.M{"sequence": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, werrors.NewRetryableInternalError("failed to allocate event sequence: %s", err.Error())
	}
	return counter.Sequence, nil
}

func (s *EventStore) GetEvents(ctx context.Context, aggregateId string, aggregateType string, fromSequence int64) ([]eventstore.StoredEvent, werrors.WError) {
	filter := bson.M{
		"aggregate_id":   aggregateId,
		"aggregate_type": aggregateType,
	}
	if fromSequence > 0 {
		filter["sequence"] = bson.M{"$gte": fromSequence}
	}
	return s.findEvents(ctx, filter, bson.D{{Key: "sequence", Value: 1}})
}

func (s *EventStore) GetEventsByCorrelationId(ctx context.Context, correlationId string) ([]eventstore.StoredEvent, werrors.WError) {
	filter := bson.M{"metadata.correlation_id": correlationId}
	return s.findEvents(ctx, filter, bson.D{{Key: "created_at", Value: 1}})
}

func (s *EventStore) findEvents(ctx context.Context, filter bson.M, sort bson.D) ([]eventstore.StoredEvent, werrors.WError) {
	cursor, err := s.collection(eventsCollection).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, werrors.NewRetryableInternalError("failed to find events: %s", err.Error())
	}
	var events []eventstore.StoredEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, werrors.NewRetryableInternalError("failed to decode events: %s", err.Error())
	}
	return events, nil
}

func (s *EventStore) SaveSnapshot(ctx context.Context, snapshot eventstore.Snapshot) werrors.WError {
	latest, werr := s.GetLatestSnapshot(ctx, snapshot.AggregateId, snapshot.AggregateType)
	if werr != nil {
		return werr
	}
	if latest != nil && snapshot.Version <= latest.Version {
		return werrors.NewNonRetryableInternalError(
			"snapshot version %d is not greater than latest version %d",
			snapshot.Version, latest.Version)
	}
	_, err := s.collection(snapshotsCollection).InsertOne(ctx, snapshot)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return werrors.NewNonRetryableInternalError("duplicate snapshot version: %d", snapshot.Version)
		}
		return werrors.NewRetryableInternalError("failed to save snapshot: %s", err.Error())
	}
	return nil
}

func (s *EventStore) GetLatestSnapshot(ctx context.Context, aggregateId string, aggregateType string) (*eventstore.Snapshot, werrors.WError) {
	result := s.collection(snapshotsCollection).FindOne(
		ctx,
		bson.M{"aggregate_id": aggregateId, "aggregate_type": aggregateType},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}),
	)
	var snapshot eventstore.Snapshot
	if err := result.Decode(&snapshot); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, werrors.NewRetryableInternalError("failed to get latest snapshot: %s", err.Error())
	}
	return &snapshot, nil
}

func (s *EventStore) GetEventsAfterSnapshot(ctx context.Context, aggregateId string, aggregateType string) (*eventstore.Snapshot, []eventstore.StoredEvent, werrors.WError) {
	snapshot, werr := s.GetLatestSnapshot(ctx, aggregateId, aggregateType)
	if werr != nil {
		return nil, nil, werr
	}
	var fromSequence int64
	if snapshot != nil {
		fromSequence = snapshot.EventSequence + 1
	}
	events, werr := s.GetEvents(ctx, aggregateId, aggregateType, fromSequence)
	if werr != nil {
		return nil, nil, werr
	}
	return snapshot, events, nil
}

func (s *EventStore) collection(name string) *mongo.Collection {
	return s.client.Database(s.dbName).Collection(name)
}
