package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/walletera/werrors"
)

// Metadata carries the tenant scoping and causal trace of a stored event.
type Metadata struct {
	TenantId      string    `json:"tenantId" bson:"tenant_id"`
	CorrelationId string    `json:"correlationId" bson:"correlation_id"`
	CausationId   string    `json:"causationId,omitempty" bson:"causation_id,omitempty"`
	UserId        string    `json:"userId,omitempty" bson:"user_id,omitempty"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
}

// StoredEvent is one immutable entry of the append-only log.
//
// EventId is assigned by the caller before the append. Retried appends reuse
// the same id so the store can reject the duplicate instead of double-writing.
// Sequence is assigned by the store and is monotonically increasing within an
// aggregate; it defines the total order of that aggregate's history.
type StoredEvent struct {
	EventId       uuid.UUID       `json:"eventId" bson:"_id"`
	Sequence      int64           `json:"sequence" bson:"sequence"`
	AggregateId   string          `json:"aggregateId" bson:"aggregate_id"`
	AggregateType string          `json:"aggregateType" bson:"aggregate_type"`
	EventType     string          `json:"eventType" bson:"event_type"`
	EventVersion  int             `json:"eventVersion" bson:"event_version"`
	Data          json.RawMessage `json:"data" bson:"data"`
	Metadata      Metadata        `json:"metadata" bson:"metadata"`
	CreatedAt     time.Time       `json:"createdAt" bson:"created_at"`
}

// Snapshot is a point-in-time aggregate state. Replaying events with
// Sequence greater than EventSequence on top of Data must yield the same
// state as a full replay.
type Snapshot struct {
	AggregateId   string          `json:"aggregateId" bson:"aggregate_id"`
	AggregateType string          `json:"aggregateType" bson:"aggregate_type"`
	Data          json.RawMessage `json:"data" bson:"data"`
	Version       int64           `json:"version" bson:"version"`
	EventSequence int64           `json:"eventSequence" bson:"event_sequence"`
	CreatedAt     time.Time       `json:"createdAt" bson:"created_at"`
}

// Store is the system of record. Events are append-only: no update, no
// delete. Appends to the same aggregate are serialized by the store; appends
// to different aggregates are not ordered relative to each other.
type Store interface {
	// Append persists a single event atomically. Appending an event whose
	// EventId already exists fails with a non-retryable duplicate error.
	Append(ctx context.Context, event StoredEvent) werrors.WError

	// AppendMany persists the whole batch or nothing at all.
	AppendMany(ctx context.Context, events []StoredEvent) werrors.WError

	// GetEvents returns the aggregate's events in ascending sequence order,
	// starting at fromSequence (0 returns the full history).
	GetEvents(ctx context.Context, aggregateId string, aggregateType string, fromSequence int64) ([]StoredEvent, werrors.WError)

	// GetEventsByCorrelationId returns the cross-aggregate causal trace of a
	// correlation id, ordered by creation time.
	GetEventsByCorrelationId(ctx context.Context, correlationId string) ([]StoredEvent, werrors.WError)

	// SaveSnapshot stores a snapshot. Versions must be strictly increasing
	// per aggregate.
	SaveSnapshot(ctx context.Context, snapshot Snapshot) werrors.WError

	// GetLatestSnapshot returns the highest-version snapshot of the
	// aggregate, or nil when the aggregate has no snapshot yet.
	GetLatestSnapshot(ctx context.Context, aggregateId string, aggregateType string) (*Snapshot, werrors.WError)

	// GetEventsAfterSnapshot returns the latest snapshot (possibly nil) and
	// the events appended after it, in ascending sequence order.
	GetEventsAfterSnapshot(ctx context.Context, aggregateId string, aggregateType string) (*Snapshot, []StoredEvent, werrors.WError)
}
