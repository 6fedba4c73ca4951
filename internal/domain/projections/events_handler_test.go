package projections_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"reconciliation-engine/internal/adapters/memory"
	"reconciliation-engine/internal/domain/projections"
	"reconciliation-engine/internal/domain/reconciliation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerFixture() (*projections.EventsHandler, *memory.ReadModelsRepository) {
	repository := memory.NewReadModelsRepository()
	handler := projections.NewEventsHandler(repository, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return handler, repository
}

func startedEvent(reconciliationId string) reconciliation.ReconciliationStarted {
	return reconciliation.NewReconciliationStarted(reconciliation.ReconciliationStartedData{
		ReconciliationId: reconciliationId,
		JobId:            "job-1",
		TenantId:         "tenant-1",
		SourceAdapter:    "orders-api",
		TargetAdapter:    "payments-api",
	}, "corr-1")
}

func TestEventsHandler_StartedCreatesRunningSummary(t *testing.T) {
	handler, repository := newHandlerFixture()
	ctx := context.Background()

	require.NoError(t, handler.HandleReconciliationStarted(ctx, startedEvent("rec-1")))

	summary, werr := repository.GetSummary(ctx, "rec-1")
	require.NoError(t, werr)
	assert.Equal(t, projections.StatusRunning, summary.Status)
	assert.Equal(t, "tenant-1", summary.TenantId)
	assert.Equal(t, "orders-api", summary.SourceAdapter)

	usage, werr := repository.GetUsage(ctx, "tenant-1")
	require.NoError(t, werr)
	assert.Equal(t, int64(1), usage.RunsStarted)
}

func TestEventsHandler_CompletedFillsSummaryCounts(t *testing.T) {
	handler, repository := newHandlerFixture()
	ctx := context.Background()

	require.NoError(t, handler.HandleReconciliationStarted(ctx, startedEvent("rec-1")))
	require.NoError(t, handler.HandleReconciliationCompleted(ctx, reconciliation.NewReconciliationCompleted(
		reconciliation.ReconciliationCompletedData{
			ReconciliationId:     "rec-1",
			MatchedCount:         7,
			UnmatchedSourceCount: 2,
			UnmatchedTargetCount: 1,
			AccuracyPercentage:   41.17,
		}, "tenant-1", "corr-1")))

	summary, werr := repository.GetSummary(ctx, "rec-1")
	require.NoError(t, werr)
	assert.Equal(t, projections.StatusCompleted, summary.Status)
	assert.Equal(t, 7, summary.MatchedCount)
	assert.Equal(t, 2, summary.UnmatchedSourceCount)
	assert.Equal(t, 1, summary.UnmatchedTargetCount)
	assert.InDelta(t, 41.17, summary.AccuracyPercentage, 0.0001)

	usage, werr := repository.GetUsage(ctx, "tenant-1")
	require.NoError(t, werr)
	assert.Equal(t, int64(1), usage.RunsCompleted)
}

func TestEventsHandler_MatchedAndUnmatchedEventsBumpUsage(t *testing.T) {
	handler, repository := newHandlerFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, handler.HandleRecordMatched(ctx, reconciliation.NewRecordMatched(
			reconciliation.RecordMatchedData{ReconciliationId: "rec-1"}, "tenant-1", "corr-1")))
	}
	require.NoError(t, handler.HandleRecordUnmatched(ctx, reconciliation.NewRecordUnmatched(
		reconciliation.RecordUnmatchedData{ReconciliationId: "rec-1"}, "tenant-1", "corr-1")))

	usage, werr := repository.GetUsage(ctx, "tenant-1")
	require.NoError(t, werr)
	assert.Equal(t, int64(3), usage.RecordsMatched)
	assert.Equal(t, int64(1), usage.RecordsUnmatched)
}

func TestEventsHandler_RedeliveredEventDoesNotDoubleCount(t *testing.T) {
	handler, repository := newHandlerFixture()
	ctx := context.Background()

	event := reconciliation.NewRecordMatched(
		reconciliation.RecordMatchedData{ReconciliationId: "rec-1"}, "tenant-1", "corr-1")

	require.NoError(t, handler.HandleRecordMatched(ctx, event))
	require.NoError(t, handler.HandleRecordMatched(ctx, event))

	usage, werr := repository.GetUsage(ctx, "tenant-1")
	require.NoError(t, werr)
	assert.Equal(t, int64(1), usage.RecordsMatched)
}

func TestEventsHandler_FailedMarksSummaryAndRecordsHotspot(t *testing.T) {
	handler, repository := newHandlerFixture()
	ctx := context.Background()

	require.NoError(t, handler.HandleReconciliationStarted(ctx, startedEvent("rec-1")))
	require.NoError(t, handler.HandleReconciliationFailed(ctx, reconciliation.NewReconciliationFailed(
		reconciliation.ReconciliationFailedData{
			ReconciliationId: "rec-1",
			ErrorType:        "InternalError",
			ErrorMessage:     "orders api down",
			Retryable:        true,
		}, "tenant-1", "corr-1")))

	summary, werr := repository.GetSummary(ctx, "rec-1")
	require.NoError(t, werr)
	assert.Equal(t, projections.StatusFailed, summary.Status)
	assert.Equal(t, "orders api down", summary.LastError)

	usage, werr := repository.GetUsage(ctx, "tenant-1")
	require.NoError(t, werr)
	assert.Equal(t, int64(1), usage.RunsFailed)

	hotspots, werr := repository.GetErrorHotspots(ctx, "tenant-1")
	require.NoError(t, werr)
	require.Len(t, hotspots, 1)
	assert.Equal(t, "InternalError", hotspots[0].ErrorType)
	assert.Equal(t, int64(1), hotspots[0].Count)
	assert.Equal(t, "orders api down", hotspots[0].LastMessage)
}

func TestEventsHandler_CancellationFailureMarksSummaryCancelled(t *testing.T) {
	handler, repository := newHandlerFixture()
	ctx := context.Background()

	require.NoError(t, handler.HandleReconciliationStarted(ctx, startedEvent("rec-1")))
	require.NoError(t, handler.HandleReconciliationFailed(ctx, reconciliation.NewReconciliationFailed(
		reconciliation.ReconciliationFailedData{
			ReconciliationId: "rec-1",
			ErrorType:        reconciliation.ErrorTypeCancellation,
			ErrorMessage:     "cancelled by operator",
		}, "tenant-1", "corr-1")))

	summary, werr := repository.GetSummary(ctx, "rec-1")
	require.NoError(t, werr)
	assert.Equal(t, projections.StatusCancelled, summary.Status)
}

func TestEventsHandler_FailedWithoutPriorStartedStillWrites(t *testing.T) {
	handler, repository := newHandlerFixture()
	ctx := context.Background()

	require.NoError(t, handler.HandleReconciliationFailed(ctx, reconciliation.NewReconciliationFailed(
		reconciliation.ReconciliationFailedData{
			ReconciliationId: "rec-orphan",
			ErrorType:        "InternalError",
			ErrorMessage:     "boom",
		}, "tenant-1", "corr-1")))

	summary, werr := repository.GetSummary(ctx, "rec-orphan")
	require.NoError(t, werr)
	assert.Equal(t, projections.StatusFailed, summary.Status)
	assert.Equal(t, "tenant-1", summary.TenantId)
}
