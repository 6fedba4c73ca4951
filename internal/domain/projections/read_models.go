package projections

import (
	"context"
	"time"

	"github.com/walletera/werrors"
)

// Reconciliation statuses as exposed by the read model.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ReconciliationSummary is the per-reconciliation read model.
type ReconciliationSummary struct {
	ReconciliationId     string    `json:"reconciliationId" bson:"_id"`
	TenantId             string    `json:"tenantId" bson:"tenant_id"`
	JobId                string    `json:"jobId" bson:"job_id"`
	SourceAdapter        string    `json:"sourceAdapter" bson:"source_adapter"`
	TargetAdapter        string    `json:"targetAdapter" bson:"target_adapter"`
	Status               string    `json:"status" bson:"status"`
	MatchedCount         int       `json:"matchedCount" bson:"matched_count"`
	UnmatchedSourceCount int       `json:"unmatchedSourceCount" bson:"unmatched_source_count"`
	UnmatchedTargetCount int       `json:"unmatchedTargetCount" bson:"unmatched_target_count"`
	AccuracyPercentage   float64   `json:"accuracyPercentage" bson:"accuracy_percentage"`
	LastError            string    `json:"lastError,omitempty" bson:"last_error,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt" bson:"updated_at"`
}

// TenantUsage aggregates activity per tenant.
type TenantUsage struct {
	TenantId         string `json:"tenantId" bson:"_id"`
	RunsStarted      int64  `json:"runsStarted" bson:"runs_started"`
	RunsCompleted    int64  `json:"runsCompleted" bson:"runs_completed"`
	RunsFailed       int64  `json:"runsFailed" bson:"runs_failed"`
	RecordsMatched   int64  `json:"recordsMatched" bson:"records_matched"`
	RecordsUnmatched int64  `json:"recordsUnmatched" bson:"records_unmatched"`
}

// UsageDelta is one event's contribution to a tenant's usage counters.
type UsageDelta struct {
	RunsStarted      int64
	RunsCompleted    int64
	RunsFailed       int64
	RecordsMatched   int64
	RecordsUnmatched int64
}

// ErrorHotspot counts failures by tenant and error type.
type ErrorHotspot struct {
	TenantId    string    `json:"tenantId" bson:"tenant_id"`
	ErrorType   string    `json:"errorType" bson:"error_type"`
	Count       int64     `json:"count" bson:"count"`
	LastMessage string    `json:"lastMessage" bson:"last_message"`
	LastSeenAt  time.Time `json:"lastSeenAt" bson:"last_seen_at"`
}

// Repository persists the denormalized read models. Counter mutations are
// keyed by event id so redelivered events do not double-count; summary
// upserts are keyed by reconciliation id and naturally idempotent.
type Repository interface {
	UpsertSummary(ctx context.Context, summary ReconciliationSummary) werrors.WError
	GetSummary(ctx context.Context, reconciliationId string) (ReconciliationSummary, werrors.WError)

	// ApplyUsage adds the delta to the tenant's counters. A second call
	// with the same eventId is a no-op.
	ApplyUsage(ctx context.Context, eventId string, tenantId string, delta UsageDelta) werrors.WError
	GetUsage(ctx context.Context, tenantId string) (TenantUsage, werrors.WError)

	// RecordFailure bumps the (tenant, errorType) hotspot. A second call
	// with the same eventId is a no-op.
	RecordFailure(ctx context.Context, eventId string, tenantId string, errorType string, message string, at time.Time) werrors.WError
	GetErrorHotspots(ctx context.Context, tenantId string) ([]ErrorHotspot, werrors.WError)
}
