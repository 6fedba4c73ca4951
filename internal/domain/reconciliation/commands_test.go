package reconciliation_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"reconciliation-engine/internal/adapters/memory"
	"reconciliation-engine/internal/domain/reconciliation"
	"reconciliation-engine/internal/domain/saga"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletera/werrors"
)

type commandFixture struct {
	handler      *reconciliation.CommandHandler
	orchestrator *saga.Orchestrator
	eventStore   *memory.EventStore
	publisher    *capturePublisher
}

func newCommandFixture(t *testing.T, definition *saga.Definition) *commandFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eventStore := memory.NewEventStore()
	publisher := &capturePublisher{}
	orchestrator := saga.NewOrchestrator(
		saga.NewRegistry(),
		memory.NewSagaStore(),
		logger,
		saga.WithRetryBackoff(time.Millisecond, time.Millisecond),
	)
	if definition != nil {
		orchestrator.RegisterSaga(*definition)
	}

	return &commandFixture{
		handler:      reconciliation.NewCommandHandler(eventStore, publisher, orchestrator, logger),
		orchestrator: orchestrator,
		eventStore:   eventStore,
		publisher:    publisher,
	}
}

func startCommand(reconciliationId string, correlationId string) reconciliation.StartCommand {
	return reconciliation.StartCommand{
		ReconciliationId: reconciliationId,
		JobId:            "job-1",
		TenantId:         "tenant-1",
		UserId:           "user-1",
		SourceAdapter:    "orders-api",
		TargetAdapter:    "payments-api",
		DateRange:        fetchWindow,
		CorrelationId:    correlationId,
	}
}

func TestCommandHandler_StartEmitsStartedEvent(t *testing.T) {
	fixture := newCommandFixture(t, nil)

	require.NoError(t, fixture.handler.HandleStart(context.Background(), startCommand("rec-1", "corr-1")))

	storedEvents, werr := fixture.eventStore.GetEvents(context.Background(), "rec-1", reconciliation.AggregateType, 0)
	require.NoError(t, werr)
	require.Len(t, storedEvents, 1)
	assert.Equal(t, reconciliation.ReconciliationStartedType, storedEvents[0].EventType)
	assert.Equal(t, "corr-1", storedEvents[0].Metadata.CorrelationId)
	assert.Equal(t, "tenant-1", storedEvents[0].Metadata.TenantId)

	var started reconciliation.ReconciliationStarted
	require.NoError(t, json.Unmarshal(storedEvents[0].Data, &started))
	assert.Equal(t, "orders-api", started.Data.SourceAdapter)
	assert.Equal(t, fetchWindow, started.Data.DateRange)

	assert.Equal(t, []string{"reconciliation.started"}, fixture.publisher.routingKeys())
}

func TestCommandHandler_StartGeneratesCorrelationIdWhenAbsent(t *testing.T) {
	fixture := newCommandFixture(t, nil)

	require.NoError(t, fixture.handler.HandleStart(context.Background(), startCommand("rec-1", "")))

	storedEvents, werr := fixture.eventStore.GetEvents(context.Background(), "rec-1", reconciliation.AggregateType, 0)
	require.NoError(t, werr)
	require.Len(t, storedEvents, 1)
	assert.NotEmpty(t, storedEvents[0].Metadata.CorrelationId)
}

func TestCommandHandler_StartValidatesRequiredFields(t *testing.T) {
	fixture := newCommandFixture(t, nil)

	cmd := startCommand("rec-1", "")
	cmd.SourceAdapter = ""
	werr := fixture.handler.HandleStart(context.Background(), cmd)
	require.Error(t, werr)
	assert.False(t, werr.IsRetryable())
}

func TestCommandHandler_RetryPreservesOriginalCorrelationId(t *testing.T) {
	fixture := newCommandFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, fixture.handler.HandleStart(ctx, startCommand("rec-1", "corr-original")))
	require.NoError(t, fixture.handler.HandleRetry(ctx, reconciliation.RetryCommand{
		ReconciliationId: "rec-1",
		TenantId:         "tenant-1",
	}))

	storedEvents, werr := fixture.eventStore.GetEvents(ctx, "rec-1", reconciliation.AggregateType, 0)
	require.NoError(t, werr)
	require.Len(t, storedEvents, 2)
	assert.Equal(t, reconciliation.ReconciliationStartedType, storedEvents[1].EventType)
	assert.Equal(t, "corr-original", storedEvents[1].Metadata.CorrelationId)

	// The retry replays the original job parameters.
	var retried reconciliation.ReconciliationStarted
	require.NoError(t, json.Unmarshal(storedEvents[1].Data, &retried))
	assert.Equal(t, "job-1", retried.Data.JobId)
	assert.Equal(t, "orders-api", retried.Data.SourceAdapter)
}

func TestCommandHandler_RetryWithoutHistoryFails(t *testing.T) {
	fixture := newCommandFixture(t, nil)

	werr := fixture.handler.HandleRetry(context.Background(), reconciliation.RetryCommand{
		ReconciliationId: "rec-unknown",
		TenantId:         "tenant-1",
	})
	require.Error(t, werr)
}

func TestCommandHandler_CancelEmitsCancellationFailure(t *testing.T) {
	fixture := newCommandFixture(t, nil)

	require.NoError(t, fixture.handler.HandleCancel(context.Background(), reconciliation.CancelCommand{
		ReconciliationId: "rec-1",
		TenantId:         "tenant-1",
		Reason:           "duplicate job",
	}))

	storedEvents, werr := fixture.eventStore.GetEvents(context.Background(), "rec-1", reconciliation.AggregateType, 0)
	require.NoError(t, werr)
	require.Len(t, storedEvents, 1)
	assert.Equal(t, reconciliation.ReconciliationFailedType, storedEvents[0].EventType)

	var failed reconciliation.ReconciliationFailed
	require.NoError(t, json.Unmarshal(storedEvents[0].Data, &failed))
	assert.Equal(t, reconciliation.ErrorTypeCancellation, failed.Data.ErrorType)
	assert.Equal(t, "duplicate job", failed.Data.ErrorMessage)
	assert.False(t, failed.Data.Retryable)
}

func TestCommandHandler_CancelStopsRunningSaga(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	definition := &saga.Definition{
		Type: reconciliation.SagaType,
		Steps: []saga.Step{
			{
				Name: "blocked",
				Execute: func(ctx context.Context, state *saga.State) (map[string]any, werrors.WError) {
					started <- struct{}{}
					<-gate
					return nil, nil
				},
			},
		},
	}
	fixture := newCommandFixture(t, definition)
	ctx := context.Background()

	sagaId, werr := fixture.orchestrator.StartSaga(ctx, reconciliation.SagaType, "rec-1", nil, "tenant-1", "")
	require.NoError(t, werr)
	select {
	case <-started:
	case <-time.After(testTimeout):
		t.Fatal("saga step never started")
	}

	require.NoError(t, fixture.handler.HandleCancel(ctx, reconciliation.CancelCommand{
		ReconciliationId: "rec-1",
		TenantId:         "tenant-1",
	}))
	close(gate)

	require.Eventually(t, func() bool {
		state, werr := fixture.orchestrator.GetSagaStatus(ctx, sagaId, reconciliation.SagaType)
		return werr == nil && state.Status == saga.StatusCancelled
	}, testTimeout, testInterval)
}
