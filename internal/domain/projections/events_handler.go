package projections

import (
	"context"
	"log/slog"

	"reconciliation-engine/internal/domain/reconciliation"
	"reconciliation-engine/pkg/logattr"

	"github.com/walletera/werrors"
)

// EventsHandler folds the reconciliation event stream into the read models.
// Handlers are safe under at-least-once delivery: summaries are idempotent
// upserts and counters are deduplicated by event id in the repository.
type EventsHandler struct {
	repository Repository
	logger     *slog.Logger
}

var _ reconciliation.Handler = (*EventsHandler)(nil)

func NewEventsHandler(repository Repository, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		repository: repository,
		logger:     logger,
	}
}

func (e *EventsHandler) HandleReconciliationStarted(ctx context.Context, event reconciliation.ReconciliationStarted) werrors.WError {
	summary, werr := e.loadSummary(ctx, event.Data.ReconciliationId)
	if werr != nil {
		return werr
	}
	summary.ReconciliationId = event.Data.ReconciliationId
	summary.TenantId = event.Data.TenantId
	summary.JobId = event.Data.JobId
	summary.SourceAdapter = event.Data.SourceAdapter
	summary.TargetAdapter = event.Data.TargetAdapter
	summary.Status = StatusRunning
	summary.LastError = ""
	summary.UpdatedAt = event.CreatedAt()

	if werr := e.repository.UpsertSummary(ctx, summary); werr != nil {
		return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
	}
	if werr := e.repository.ApplyUsage(ctx, event.ID(), event.Data.TenantId, UsageDelta{RunsStarted: 1}); werr != nil {
		return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
	}
	e.logger.Info("reconciliation summary updated",
		logattr.ReconciliationId(event.Data.ReconciliationId),
		logattr.CorrelationId(event.CorrelationID()))
	return nil
}

func (e *EventsHandler) HandleOrdersFetched(ctx context.Context, event reconciliation.OrdersFetched) werrors.WError {
	return nil
}

func (e *EventsHandler) HandlePaymentsFetched(ctx context.Context, event reconciliation.PaymentsFetched) werrors.WError {
	return nil
}

func (e *EventsHandler) HandleRecordMatched(ctx context.Context, event reconciliation.RecordMatched) werrors.WError {
	werr := e.repository.ApplyUsage(ctx, event.ID(), event.TenantID(), UsageDelta{RecordsMatched: 1})
	return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
}

func (e *EventsHandler) HandleRecordUnmatched(ctx context.Context, event reconciliation.RecordUnmatched) werrors.WError {
	werr := e.repository.ApplyUsage(ctx, event.ID(), event.TenantID(), UsageDelta{RecordsUnmatched: 1})
	return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
}

func (e *EventsHandler) HandleReconciliationCompleted(ctx context.Context, event reconciliation.ReconciliationCompleted) werrors.WError {
	summary, werr := e.loadSummary(ctx, event.Data.ReconciliationId)
	if werr != nil {
		return werr
	}
	summary.ReconciliationId = event.Data.ReconciliationId
	if summary.TenantId == "" {
		summary.TenantId = event.TenantID()
	}
	summary.Status = StatusCompleted
	summary.MatchedCount = event.Data.MatchedCount
	summary.UnmatchedSourceCount = event.Data.UnmatchedSourceCount
	summary.UnmatchedTargetCount = event.Data.UnmatchedTargetCount
	summary.AccuracyPercentage = event.Data.AccuracyPercentage
	summary.UpdatedAt = event.CreatedAt()

	if werr := e.repository.UpsertSummary(ctx, summary); werr != nil {
		return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
	}
	if werr := e.repository.ApplyUsage(ctx, event.ID(), event.TenantID(), UsageDelta{RunsCompleted: 1}); werr != nil {
		return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
	}
	e.logger.Info("reconciliation summary completed",
		logattr.ReconciliationId(event.Data.ReconciliationId),
		logattr.CorrelationId(event.CorrelationID()))
	return nil
}

func (e *EventsHandler) HandleReconciliationFailed(ctx context.Context, event reconciliation.ReconciliationFailed) werrors.WError {
	summary, werr := e.loadSummary(ctx, event.Data.ReconciliationId)
	if werr != nil {
		return werr
	}
	summary.ReconciliationId = event.Data.ReconciliationId
	if summary.TenantId == "" {
		summary.TenantId = event.TenantID()
	}
	if event.Data.ErrorType == reconciliation.ErrorTypeCancellation {
		summary.Status = StatusCancelled
	} else {
		summary.Status = StatusFailed
	}
	summary.LastError = event.Data.ErrorMessage
	summary.UpdatedAt = event.CreatedAt()

	if werr := e.repository.UpsertSummary(ctx, summary); werr != nil {
		return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
	}
	if werr := e.repository.ApplyUsage(ctx, event.ID(), event.TenantID(), UsageDelta{RunsFailed: 1}); werr != nil {
		return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
	}
	werr = e.repository.RecordFailure(ctx, event.ID(), event.TenantID(), event.Data.ErrorType, event.Data.ErrorMessage, event.CreatedAt())
	return e.logged(werr, event.Data.ReconciliationId, event.CorrelationID())
}

func (e *EventsHandler) loadSummary(ctx context.Context, reconciliationId string) (ReconciliationSummary, werrors.WError) {
	summary, werr := e.repository.GetSummary(ctx, reconciliationId)
	if werr != nil {
		if werr.Code() == werrors.ResourceNotFoundErrorCode {
			return ReconciliationSummary{}, nil
		}
		return ReconciliationSummary{}, werr
	}
	return summary, nil
}

func (e *EventsHandler) logged(werr werrors.WError, reconciliationId string, correlationId string) werrors.WError {
	if werr == nil {
		return nil
	}
	e.logger.Error("failed updating read model",
		logattr.Error(werr.Message()),
		logattr.ReconciliationId(reconciliationId),
		logattr.CorrelationId(correlationId))
	return werr
}
