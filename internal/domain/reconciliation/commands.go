package reconciliation

import (
	"context"
	"encoding/json"
	"log/slog"

	"reconciliation-engine/internal/domain/eventstore"
	"reconciliation-engine/internal/domain/saga"
	"reconciliation-engine/pkg/logattr"

	"github.com/google/uuid"
	"github.com/walletera/eventskit/events"
	"github.com/walletera/werrors"
)

type StartCommand struct {
	ReconciliationId string
	JobId            string
	TenantId         string
	UserId           string
	SourceAdapter    string
	TargetAdapter    string
	DateRange        DateRange
	CorrelationId    string
}

type RetryCommand struct {
	ReconciliationId string
	TenantId         string
	UserId           string
	CorrelationId    string
}

type CancelCommand struct {
	ReconciliationId string
	TenantId         string
	Reason           string
	CorrelationId    string
}

// CommandHandler turns external intents into appended events and bus
// publications. The saga itself starts when the published
// ReconciliationStarted event reaches the saga trigger.
type CommandHandler struct {
	eventStore   eventstore.Store
	publisher    events.Publisher
	orchestrator *saga.Orchestrator
	logger       *slog.Logger
}

func NewCommandHandler(
	eventStore eventstore.Store,
	publisher events.Publisher,
	orchestrator *saga.Orchestrator,
	logger *slog.Logger,
) *CommandHandler {
	return &CommandHandler{
		eventStore:   eventStore,
		publisher:    publisher,
		orchestrator: orchestrator,
		logger:       logger.With(logattr.Component("reconciliation.CommandHandler")),
	}
}

func (h *CommandHandler) HandleStart(ctx context.Context, cmd StartCommand) werrors.WError {
	if cmd.ReconciliationId == "" || cmd.TenantId == "" || cmd.SourceAdapter == "" || cmd.TargetAdapter == "" {
		return werrors.NewNonRetryableInternalError("start command is missing required fields")
	}
	correlationId := cmd.CorrelationId
	if correlationId == "" {
		correlationId = uuid.NewString()
	}

	event := NewReconciliationStarted(ReconciliationStartedData{
		ReconciliationId: cmd.ReconciliationId,
		JobId:            cmd.JobId,
		TenantId:         cmd.TenantId,
		UserId:           cmd.UserId,
		SourceAdapter:    cmd.SourceAdapter,
		TargetAdapter:    cmd.TargetAdapter,
		DateRange:        cmd.DateRange,
	}, correlationId)

	if werr := h.emit(ctx, event, cmd.ReconciliationId); werr != nil {
		return werr
	}
	h.logger.Info("reconciliation started",
		logattr.ReconciliationId(cmd.ReconciliationId),
		logattr.TenantId(cmd.TenantId),
		logattr.CorrelationId(correlationId))
	return nil
}

// HandleRetry re-emits ReconciliationStarted with the job id, adapters and
// date range copied from the aggregate's last known started event. The
// original correlation id is preserved unless the command overrides it.
func (h *CommandHandler) HandleRetry(ctx context.Context, cmd RetryCommand) werrors.WError {
	if cmd.ReconciliationId == "" || cmd.TenantId == "" {
		return werrors.NewNonRetryableInternalError("retry command is missing required fields")
	}

	lastStarted, werr := h.lastStartedEvent(ctx, cmd.ReconciliationId)
	if werr != nil {
		return werr
	}

	correlationId := cmd.CorrelationId
	if correlationId == "" {
		correlationId = lastStarted.CorrelationID()
	}
	data := lastStarted.Data
	if cmd.UserId != "" {
		data.UserId = cmd.UserId
	}

	event := NewReconciliationStarted(data, correlationId)
	if werr := h.emit(ctx, event, cmd.ReconciliationId); werr != nil {
		return werr
	}
	h.logger.Info("reconciliation retried",
		logattr.ReconciliationId(cmd.ReconciliationId),
		logattr.TenantId(cmd.TenantId),
		logattr.CorrelationId(correlationId))
	return nil
}

// HandleCancel emits a terminal ReconciliationFailed event carrying a
// non-retryable cancellation error and cancels the driving saga if one is
// still running. Completed steps are not compensated.
func (h *CommandHandler) HandleCancel(ctx context.Context, cmd CancelCommand) werrors.WError {
	if cmd.ReconciliationId == "" || cmd.TenantId == "" {
		return werrors.NewNonRetryableInternalError("cancel command is missing required fields")
	}
	correlationId := cmd.CorrelationId
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "reconciliation cancelled by operator"
	}

	event := NewReconciliationFailed(ReconciliationFailedData{
		ReconciliationId: cmd.ReconciliationId,
		ErrorType:        ErrorTypeCancellation,
		ErrorMessage:     reason,
		Retryable:        false,
	}, cmd.TenantId, correlationId)
	if werr := h.emit(ctx, event, cmd.ReconciliationId); werr != nil {
		return werr
	}

	state, werr := h.orchestrator.FindSagaByAggregate(ctx, SagaType, cmd.ReconciliationId)
	if werr != nil {
		// No saga to cancel; the terminal event is already on the wire.
		h.logger.Info("no running saga found for cancelled reconciliation",
			logattr.ReconciliationId(cmd.ReconciliationId))
		return nil
	}
	if !state.Status.Terminal() {
		if werr := h.orchestrator.CancelSaga(ctx, state.SagaId, SagaType); werr != nil {
			h.logger.Error("failed cancelling saga",
				logattr.SagaId(state.SagaId),
				logattr.Error(werr.Message()))
		}
	}
	h.logger.Info("reconciliation cancelled",
		logattr.ReconciliationId(cmd.ReconciliationId),
		logattr.TenantId(cmd.TenantId))
	return nil
}

func (h *CommandHandler) lastStartedEvent(ctx context.Context, reconciliationId string) (ReconciliationStarted, werrors.WError) {
	storedEvents, werr := h.eventStore.GetEvents(ctx, reconciliationId, AggregateType, 0)
	if werr != nil {
		return ReconciliationStarted{}, werr
	}
	for i := len(storedEvents) - 1; i >= 0; i-- {
		if storedEvents[i].EventType != ReconciliationStartedType {
			continue
		}
		var event ReconciliationStarted
		if err := json.Unmarshal(storedEvents[i].Data, &event); err != nil {
			return ReconciliationStarted{}, werrors.NewNonRetryableInternalError("failed decoding stored started event: %s", err.Error())
		}
		return event, nil
	}
	return ReconciliationStarted{}, werrors.NewNonRetryableInternalError("no started event found for reconciliation %s", reconciliationId)
}

func (h *CommandHandler) emit(ctx context.Context, event Event, aggregateId string) werrors.WError {
	stored, werr := ToStoredEvent(event, aggregateId)
	if werr != nil {
		return werr
	}
	if werr := h.eventStore.Append(ctx, stored); werr != nil {
		return werr
	}
	if err := h.publisher.Publish(ctx, event, Routing(event.Type())); err != nil {
		return werrors.NewRetryableInternalError("failed publishing event %s: %s", event.Type(), err.Error())
	}
	return nil
}
