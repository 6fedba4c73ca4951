package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/walletera/werrors"
)

// Entry is a unit of work that exhausted automated recovery and awaits
// manual resolution. Its lifecycle is one-way: created on irrecoverable
// failure, resolved exactly once by an operator.
type Entry struct {
	Id              uuid.UUID       `json:"id" bson:"_id"`
	SagaId          string          `json:"sagaId,omitempty" bson:"saga_id,omitempty"`
	EventId         string          `json:"eventId,omitempty" bson:"event_id,omitempty"`
	ErrorType       string          `json:"errorType" bson:"error_type"`
	ErrorMessage    string          `json:"errorMessage" bson:"error_message"`
	Stack           string          `json:"stack,omitempty" bson:"stack,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty"`
	RetryCount      int             `json:"retryCount" bson:"retry_count"`
	MaxRetries      int             `json:"maxRetries" bson:"max_retries"`
	TenantId        string          `json:"tenantId" bson:"tenant_id"`
	CorrelationId   string          `json:"correlationId,omitempty" bson:"correlation_id,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"created_at"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty" bson:"resolved_at,omitempty"`
	ResolutionNotes string          `json:"resolutionNotes,omitempty" bson:"resolution_notes,omitempty"`
}

func (e Entry) Resolved() bool {
	return e.ResolvedAt != nil
}

// Store owns the unresolved-entry lifecycle until resolution.
type Store interface {
	AddEntry(ctx context.Context, entry Entry) werrors.WError

	// GetUnresolvedEntries returns unresolved entries ordered by creation
	// time, paginated.
	GetUnresolvedEntries(ctx context.Context, limit int64, offset int64) ([]Entry, werrors.WError)

	// GetEntriesByTenant returns the tenant's entries (resolved included)
	// ordered by creation time, paginated.
	GetEntriesByTenant(ctx context.Context, tenantId string, limit int64, offset int64) ([]Entry, werrors.WError)

	// ResolveEntry stamps the resolution time and notes. Resolution is
	// one-way: re-resolving an already resolved entry keeps the original
	// timestamp and only updates the notes.
	ResolveEntry(ctx context.Context, id uuid.UUID, notes string) werrors.WError
}
