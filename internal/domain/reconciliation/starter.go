package reconciliation

import (
	"context"
	"log/slog"

	"reconciliation-engine/internal/domain/saga"
	"reconciliation-engine/pkg/logattr"

	"github.com/walletera/werrors"
)

// NoopHandler implements Handler with no-ops. Embed it to react to a subset
// of the event stream.
type NoopHandler struct{}

func (NoopHandler) HandleReconciliationStarted(context.Context, ReconciliationStarted) werrors.WError {
	return nil
}
func (NoopHandler) HandleOrdersFetched(context.Context, OrdersFetched) werrors.WError     { return nil }
func (NoopHandler) HandlePaymentsFetched(context.Context, PaymentsFetched) werrors.WError { return nil }
func (NoopHandler) HandleRecordMatched(context.Context, RecordMatched) werrors.WError     { return nil }
func (NoopHandler) HandleRecordUnmatched(context.Context, RecordUnmatched) werrors.WError { return nil }
func (NoopHandler) HandleReconciliationCompleted(context.Context, ReconciliationCompleted) werrors.WError {
	return nil
}
func (NoopHandler) HandleReconciliationFailed(context.Context, ReconciliationFailed) werrors.WError {
	return nil
}

// SagaStarter triggers the reconciliation saga when a ReconciliationStarted
// event arrives on the bus.
type SagaStarter struct {
	NoopHandler
	orchestrator *saga.Orchestrator
	logger       *slog.Logger
}

func NewSagaStarter(orchestrator *saga.Orchestrator, logger *slog.Logger) *SagaStarter {
	return &SagaStarter{
		orchestrator: orchestrator,
		logger:       logger.With(logattr.Component("reconciliation.SagaStarter")),
	}
}

func (s *SagaStarter) HandleReconciliationStarted(ctx context.Context, event ReconciliationStarted) werrors.WError {
	sagaId, werr := s.orchestrator.StartSaga(
		ctx,
		SagaType,
		event.Data.ReconciliationId,
		InitialSagaData(event.Data),
		event.Data.TenantId,
		event.CorrelationID(),
	)
	if werr != nil {
		s.logger.Error("failed starting reconciliation saga",
			logattr.ReconciliationId(event.Data.ReconciliationId),
			logattr.Error(werr.Message()))
		return werr
	}
	s.logger.Info("reconciliation saga started",
		logattr.SagaId(sagaId),
		logattr.ReconciliationId(event.Data.ReconciliationId),
		logattr.TenantId(event.Data.TenantId),
		logattr.CorrelationId(event.CorrelationID()))
	return nil
}

// CompositeHandler fans an event out to several handlers in order. The first
// failure short-circuits and is returned.
type CompositeHandler struct {
	handlers []Handler
}

func NewCompositeHandler(handlers ...Handler) *CompositeHandler {
	return &CompositeHandler{handlers: handlers}
}

func (c *CompositeHandler) HandleReconciliationStarted(ctx context.Context, event ReconciliationStarted) werrors.WError {
	return dispatch(c.handlers, func(h Handler) werrors.WError {
		return h.HandleReconciliationStarted(ctx, event)
	})
}

func (c *CompositeHandler) HandleOrdersFetched(ctx context.Context, event OrdersFetched) werrors.WError {
	return dispatch(c.handlers, func(h Handler) werrors.WError {
		return h.HandleOrdersFetched(ctx, event)
	})
}

func (c *CompositeHandler) HandlePaymentsFetched(ctx context.Context, event PaymentsFetched) werrors.WError {
	return dispatch(c.handlers, func(h Handler) werrors.WError {
		return h.HandlePaymentsFetched(ctx, event)
	})
}

func (c *CompositeHandler) HandleRecordMatched(ctx context.Context, event RecordMatched) werrors.WError {
	return dispatch(c.handlers, func(h Handler) werrors.WError {
		return h.HandleRecordMatched(ctx, event)
	})
}

func (c *CompositeHandler) HandleRecordUnmatched(ctx context.Context, event RecordUnmatched) werrors.WError {
	return dispatch(c.handlers, func(h Handler) werrors.WError {
		return h.HandleRecordUnmatched(ctx, event)
	})
}

func (c *CompositeHandler) HandleReconciliationCompleted(ctx context.Context, event ReconciliationCompleted) werrors.WError {
	return dispatch(c.handlers, func(h Handler) werrors.WError {
		return h.HandleReconciliationCompleted(ctx, event)
	})
}

func (c *CompositeHandler) HandleReconciliationFailed(ctx context.Context, event ReconciliationFailed) werrors.WError {
	return dispatch(c.handlers, func(h Handler) werrors.WError {
		return h.HandleReconciliationFailed(ctx, event)
	})
}

func dispatch(handlers []Handler, handle func(Handler) werrors.WError) werrors.WError {
	for _, handler := range handlers {
		if werr := handle(handler); werr != nil {
			return werr
		}
	}
	return nil
}
