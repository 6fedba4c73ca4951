package reconciliation_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"reconciliation-engine/internal/adapters/memory"
	"reconciliation-engine/internal/circuitbreaker"
	"reconciliation-engine/internal/domain/eventstore"
	"reconciliation-engine/internal/domain/reconciliation"
	"reconciliation-engine/internal/domain/saga"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletera/eventskit/events"
	"github.com/walletera/werrors"
)

const (
	testTimeout  = 5 * time.Second
	testInterval = 5 * time.Millisecond
)

var fetchWindow = reconciliation.DateRange{
	Start: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
}

type fakeAdapter struct {
	mu       sync.Mutex
	records  []reconciliation.Record
	err      werrors.WError
	panicMsg string
	calls    int
}

func (a *fakeAdapter) Fetch(ctx context.Context, options reconciliation.FetchOptions) ([]reconciliation.Record, werrors.WError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.records, nil
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type capturePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
}

type publishedEvent struct {
	payload []byte
	routing events.RoutingInfo
}

func (p *capturePublisher) Publish(ctx context.Context, data events.EventData, info events.RoutingInfo) error {
	payload, err := data.Serialize()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedEvent{payload: payload, routing: info})
	return nil
}

func (p *capturePublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var keys []string
	for _, event := range p.published {
		keys = append(keys, event.routing.RoutingKey)
	}
	return keys
}

type workflowFixture struct {
	orchestrator *saga.Orchestrator
	eventStore   *memory.EventStore
	dlqStore     *memory.DLQStore
	publisher    *capturePublisher
	source       *fakeAdapter
	target       *fakeAdapter
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	source := &fakeAdapter{}
	target := &fakeAdapter{}
	adapters := reconciliation.NewAdapterRegistry()
	adapters.Register("orders-api", source)
	adapters.Register("payments-api", target)

	eventStore := memory.NewEventStore()
	dlqStore := memory.NewDLQStore()
	publisher := &capturePublisher{}

	workflow := reconciliation.NewWorkflow(
		adapters,
		circuitbreaker.Config{},
		eventStore,
		publisher,
		dlqStore,
		logger,
	)

	orchestrator := saga.NewOrchestrator(
		saga.NewRegistry(),
		memory.NewSagaStore(),
		logger,
		saga.WithRetryBackoff(time.Millisecond, time.Millisecond),
	)
	orchestrator.RegisterSaga(workflow.Definition())

	return &workflowFixture{
		orchestrator: orchestrator,
		eventStore:   eventStore,
		dlqStore:     dlqStore,
		publisher:    publisher,
		source:       source,
		target:       target,
	}
}

func (f *workflowFixture) startSaga(t *testing.T, reconciliationId string) string {
	t.Helper()
	data := reconciliation.InitialSagaData(reconciliation.ReconciliationStartedData{
		ReconciliationId: reconciliationId,
		JobId:            "job-1",
		TenantId:         "tenant-1",
		SourceAdapter:    "orders-api",
		TargetAdapter:    "payments-api",
		DateRange:        fetchWindow,
	})
	sagaId, werr := f.orchestrator.StartSaga(context.Background(), reconciliation.SagaType, reconciliationId, data, "tenant-1", "corr-1")
	require.NoError(t, werr)
	return sagaId
}

func (f *workflowFixture) waitForStatus(t *testing.T, sagaId string, want saga.Status) *saga.State {
	t.Helper()
	var state *saga.State
	require.Eventually(t, func() bool {
		current, werr := f.orchestrator.GetSagaStatus(context.Background(), sagaId, reconciliation.SagaType)
		if werr != nil {
			return false
		}
		state = current
		return current.Status == want
	}, testTimeout, testInterval)
	return state
}

func eventTypes(events []eventstore.StoredEvent) []string {
	var types []string
	for _, event := range events {
		types = append(types, event.EventType)
	}
	return types
}

func TestWorkflow_SuccessfulReconciliation(t *testing.T) {
	fixture := newWorkflowFixture(t)
	base := fetchWindow.Start.Add(12 * time.Hour)
	fixture.source.records = []reconciliation.Record{
		{ID: "o1", Amount: 100.00, Currency: "USD", Date: base},
		{ID: "o2", Amount: 250.00, Currency: "USD", Date: base},
	}
	fixture.target.records = []reconciliation.Record{
		{ID: "p1", Amount: 100.00, Currency: "USD", Date: base.Add(2 * time.Hour)},
		{ID: "p2", Amount: 999.00, Currency: "USD", Date: base},
	}

	sagaId := fixture.startSaga(t, "rec-1")
	state := fixture.waitForStatus(t, sagaId, saga.StatusCompleted)

	assert.EqualValues(t, 1, state.Data[reconciliation.DataKeyMatchedCount])
	assert.EqualValues(t, 1, state.Data[reconciliation.DataKeyUnmatchedSourceCount])
	assert.EqualValues(t, 1, state.Data[reconciliation.DataKeyUnmatchedTargetCount])

	storedEvents, werr := fixture.eventStore.GetEvents(context.Background(), "rec-1", reconciliation.AggregateType, 0)
	require.NoError(t, werr)
	assert.Equal(t, []string{
		reconciliation.OrdersFetchedType,
		reconciliation.PaymentsFetchedType,
		reconciliation.RecordMatchedType,
		reconciliation.RecordUnmatchedType,
		reconciliation.RecordUnmatchedType,
		reconciliation.ReconciliationCompletedType,
	}, eventTypes(storedEvents))

	// The completion event carries the summary, accuracy included.
	var completed reconciliation.ReconciliationCompleted
	require.NoError(t, json.Unmarshal(storedEvents[len(storedEvents)-1].Data, &completed))
	assert.Equal(t, 1, completed.Data.MatchedCount)
	assert.InDelta(t, 25.0, completed.Data.AccuracyPercentage, 0.0001)

	// The notify step publishes the completion on the bus.
	assert.Contains(t, fixture.publisher.routingKeys(), "reconciliation.completed")
}

func TestWorkflow_SourceFetchFailureGoesToDLQ(t *testing.T) {
	fixture := newWorkflowFixture(t)
	fixture.source.err = werrors.NewNonRetryableInternalError("orders api rejected the request")

	sagaId := fixture.startSaga(t, "rec-2")
	fixture.waitForStatus(t, sagaId, saga.StatusFailed)

	// Non-retryable failure: the adapter is called exactly once.
	assert.Equal(t, 1, fixture.source.callCount())
	assert.Equal(t, 0, fixture.target.callCount())

	storedEvents, werr := fixture.eventStore.GetEvents(context.Background(), "rec-2", reconciliation.AggregateType, 0)
	require.NoError(t, werr)
	require.Len(t, storedEvents, 1)
	assert.Equal(t, reconciliation.ReconciliationFailedType, storedEvents[0].EventType)

	var failed reconciliation.ReconciliationFailed
	require.NoError(t, json.Unmarshal(storedEvents[0].Data, &failed))
	assert.Contains(t, failed.Data.ErrorMessage, "orders api rejected the request")
	assert.False(t, failed.Data.Retryable)

	require.Eventually(t, func() bool {
		entries, werr := fixture.dlqStore.GetUnresolvedEntries(context.Background(), 0, 0)
		return werr == nil && len(entries) == 1
	}, testTimeout, testInterval)

	entries, werr := fixture.dlqStore.GetUnresolvedEntries(context.Background(), 0, 0)
	require.NoError(t, werr)
	assert.Equal(t, sagaId, entries[0].SagaId)
	assert.Equal(t, "tenant-1", entries[0].TenantId)
	// The entry points back at the appended failure event.
	assert.Equal(t, storedEvents[0].EventId.String(), entries[0].EventId)
}

func TestWorkflow_PanickingAdapterRecordsStackInDLQ(t *testing.T) {
	fixture := newWorkflowFixture(t)
	fixture.source.panicMsg = "ledger overflow"

	sagaId := fixture.startSaga(t, "rec-6")
	fixture.waitForStatus(t, sagaId, saga.StatusFailed)

	require.Eventually(t, func() bool {
		entries, werr := fixture.dlqStore.GetUnresolvedEntries(context.Background(), 0, 0)
		return werr == nil && len(entries) == 1
	}, testTimeout, testInterval)

	entries, werr := fixture.dlqStore.GetUnresolvedEntries(context.Background(), 0, 0)
	require.NoError(t, werr)
	assert.Contains(t, entries[0].ErrorMessage, "ledger overflow")
	assert.Contains(t, entries[0].Stack, "goroutine")
	assert.NotEmpty(t, entries[0].EventId)
}

func TestWorkflow_RetryableFetchFailureIsRetriedBeforeFailing(t *testing.T) {
	fixture := newWorkflowFixture(t)
	fixture.source.err = werrors.NewRetryableInternalError("orders api timed out")

	sagaId := fixture.startSaga(t, "rec-3")
	fixture.waitForStatus(t, sagaId, saga.StatusFailed)

	assert.Equal(t, 1+saga.DefaultMaxRetries, fixture.source.callCount())
}

func TestWorkflow_UnknownAdapterFailsSaga(t *testing.T) {
	fixture := newWorkflowFixture(t)

	data := reconciliation.InitialSagaData(reconciliation.ReconciliationStartedData{
		ReconciliationId: "rec-4",
		TenantId:         "tenant-1",
		SourceAdapter:    "no-such-adapter",
		TargetAdapter:    "payments-api",
		DateRange:        fetchWindow,
	})
	sagaId, werr := fixture.orchestrator.StartSaga(context.Background(), reconciliation.SagaType, "rec-4", data, "tenant-1", "")
	require.NoError(t, werr)

	fixture.waitForStatus(t, sagaId, saga.StatusFailed)
}

func TestWorkflow_EmptyFetchesStillComplete(t *testing.T) {
	fixture := newWorkflowFixture(t)

	sagaId := fixture.startSaga(t, "rec-5")
	state := fixture.waitForStatus(t, sagaId, saga.StatusCompleted)

	assert.EqualValues(t, 0, state.Data[reconciliation.DataKeyMatchedCount])

	storedEvents, werr := fixture.eventStore.GetEvents(context.Background(), "rec-5", reconciliation.AggregateType, 0)
	require.NoError(t, werr)
	assert.Equal(t, []string{
		reconciliation.OrdersFetchedType,
		reconciliation.PaymentsFetchedType,
		reconciliation.ReconciliationCompletedType,
	}, eventTypes(storedEvents))

	var completed reconciliation.ReconciliationCompleted
	require.NoError(t, json.Unmarshal(storedEvents[len(storedEvents)-1].Data, &completed))
	assert.Equal(t, 0.0, completed.Data.AccuracyPercentage)
}
