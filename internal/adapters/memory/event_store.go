package memory

import (
	"context"
	"sync"
	"time"

	"reconciliation-engine/internal/domain/eventstore"

	"github.com/google/uuid"
	"github.com/walletera/werrors"
)

type aggregateKey struct {
	id            string
	aggregateType string
}

// EventStore is the in-memory event store used by unit tests and the
// self-contained run mode. It honors the same contract as the MongoDB
// adapter: per-aggregate monotonic sequences, duplicate event id rejection,
// all-or-nothing batches.
type EventStore struct {
	mu        sync.Mutex
	log       []eventstore.StoredEvent
	aggregate map[aggregateKey][]int
	sequences map[aggregateKey]int64
	eventIds  map[uuid.UUID]struct{}
	snapshots map[aggregateKey][]eventstore.Snapshot
}

var _ eventstore.Store = (*EventStore)(nil)

func NewEventStore() *EventStore {
	return &EventStore{
		aggregate: make(map[aggregateKey][]int),
		sequences: make(map[aggregateKey]int64),
		eventIds:  make(map[uuid.UUID]struct{}),
		snapshots: make(map[aggregateKey][]eventstore.Snapshot),
	}
}

func (s *EventStore) Append(ctx context.Context, event eventstore.StoredEvent) werrors.WError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.eventIds[event.EventId]; exists {
		return werrors.NewNonRetryableInternalError("duplicate event id: %s", event.EventId)
	}
	s.append(event)
	return nil
}

func (s *EventStore) AppendMany(ctx context.Context, events []eventstore.StoredEvent) werrors.WError {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Validate the whole batch before touching the log.
	batchIds := make(map[uuid.UUID]struct{}, len(events))
	for _, event := range events {
		if _, exists := s.eventIds[event.EventId]; exists {
			return werrors.NewNonRetryableInternalError("duplicate event id: %s", event.EventId)
		}
		if _, dup := batchIds[event.EventId]; dup {
			return werrors.NewNonRetryableInternalError("duplicate event id within batch: %s", event.EventId)
		}
		batchIds[event.EventId] = struct{}{}
	}
	for _, event := range events {
		s.append(event)
	}
	return nil
}

func (s *EventStore) append(event eventstore.StoredEvent) {
	key := aggregateKey{id: event.AggregateId, aggregateType: event.AggregateType}
	s.sequences[key]++
	event.Sequence = s.sequences[key]
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.log = append(s.log, event)
	s.aggregate[key] = append(s.aggregate[key], len(s.log)-1)
	s.eventIds[event.EventId] = struct{}{}
}

func (s *EventStore) GetEvents(ctx context.Context, aggregateId string, aggregateType string, fromSequence int64) ([]eventstore.StoredEvent, werrors.WError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := aggregateKey{id: aggregateId, aggregateType: aggregateType}
	var events []eventstore.StoredEvent
	for _, idx := range s.aggregate[key] {
		event := s.log[idx]
		if event.Sequence >= fromSequence {
			events = append(events, event)
		}
	}
	return events, nil
}

func (s *EventStore) GetEventsByCorrelationId(ctx context.Context, correlationId string) ([]eventstore.StoredEvent, werrors.WError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []eventstore.StoredEvent
	for _, event := range s.log {
		if event.Metadata.CorrelationId == correlationId {
			events = append(events, event)
		}
	}
	return events, nil
}

func (s *EventStore) SaveSnapshot(ctx context.Context, snapshot eventstore.Snapshot) werrors.WError {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := aggregateKey{id: snapshot.AggregateId, aggregateType: snapshot.AggregateType}
	existing := s.snapshots[key]
	if len(existing) > 0 && snapshot.Version <= existing[len(existing)-1].Version {
		return werrors.NewNonRetryableInternalError(
			"snapshot version %d is not greater than latest version %d",
			snapshot.Version, existing[len(existing)-1].Version)
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	s.snapshots[key] = append(existing, snapshot)
	return nil
}

func (s *EventStore) GetLatestSnapshot(ctx context.Context, aggregateId string, aggregateType string) (*eventstore.Snapshot, werrors.WError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestSnapshot(aggregateId, aggregateType), nil
}

func (s *EventStore) GetEventsAfterSnapshot(ctx context.Context, aggregateId string, aggregateType string) (*eventstore.Snapshot, []eventstore.StoredEvent, werrors.WError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.latestSnapshot(aggregateId, aggregateType)
	var fromSequence int64
	if snapshot != nil {
		fromSequence = snapshot.EventSequence + 1
	}
	key := aggregateKey{id: aggregateId, aggregateType: aggregateType}
	var events []eventstore.StoredEvent
	for _, idx := range s.aggregate[key] {
		event := s.log[idx]
		if event.Sequence >= fromSequence {
			events = append(events, event)
		}
	}
	return snapshot, events, nil
}

func (s *EventStore) latestSnapshot(aggregateId string, aggregateType string) *eventstore.Snapshot {
	key := aggregateKey{id: aggregateId, aggregateType: aggregateType}
	existing := s.snapshots[key]
	if len(existing) == 0 {
		return nil
	}
	snapshot := existing[len(existing)-1]
	return &snapshot
}
