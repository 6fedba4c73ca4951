package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reconciliation-engine/internal/circuitbreaker"
	"reconciliation-engine/internal/domain/dlq"
	"reconciliation-engine/internal/domain/eventstore"
	"reconciliation-engine/internal/domain/saga"
	"reconciliation-engine/pkg/logattr"

	"github.com/google/uuid"
	"github.com/walletera/eventskit/events"
	"github.com/walletera/werrors"
)

const (
	SagaType      = "reconciliation"
	AggregateType = "reconciliation"

	StepFetchSource    = "fetch-source"
	StepFetchTarget    = "fetch-target"
	StepMatch          = "match"
	StepPersistResults = "persist-results"
	StepNotify         = "notify"

	fetchStepTimeout = 2 * time.Minute
)

// Saga data keys. Values must survive a JSON round trip: the saga store
// persists the whole data blob on every mutation.
const (
	DataKeyReconciliationId = "reconciliation_id"
	DataKeyJobId            = "job_id"
	DataKeyUserId           = "user_id"
	DataKeySourceAdapter    = "source_adapter"
	DataKeyTargetAdapter    = "target_adapter"
	DataKeyDateRangeStart   = "date_range_start"
	DataKeyDateRangeEnd     = "date_range_end"

	dataKeySourceRecords = "source_records"
	dataKeyTargetRecords = "target_records"
	dataKeySourceCount   = "source_count"
	dataKeyTargetCount   = "target_count"

	DataKeyMatchedCount         = "matched_count"
	DataKeyUnmatchedSourceCount = "unmatched_source_count"
	DataKeyUnmatchedTargetCount = "unmatched_target_count"
	DataKeyDurationMs           = "duration_ms"
	DataKeyAccuracyPercentage   = "accuracy_percentage"
)

// InitialSagaData maps a started event's payload into the saga's initial
// data blob.
func InitialSagaData(data ReconciliationStartedData) map[string]any {
	return map[string]any{
		DataKeyReconciliationId: data.ReconciliationId,
		DataKeyJobId:            data.JobId,
		DataKeyUserId:           data.UserId,
		DataKeySourceAdapter:    data.SourceAdapter,
		DataKeyTargetAdapter:    data.TargetAdapter,
		DataKeyDateRangeStart:   data.DateRange.Start.Format(time.RFC3339),
		DataKeyDateRangeEnd:     data.DateRange.End.Format(time.RFC3339),
	}
}

// breakerPool keeps one circuit breaker per provider adapter so a degraded
// source does not trip the target's breaker.
type breakerPool struct {
	mu       sync.Mutex
	config   circuitbreaker.Config
	logger   *slog.Logger
	breakers map[string]*circuitbreaker.Breaker
}

func (p *breakerPool) get(adapterName string) *circuitbreaker.Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	breaker, ok := p.breakers[adapterName]
	if !ok {
		breaker = circuitbreaker.New(adapterName, p.config, p.logger)
		p.breakers[adapterName] = breaker
	}
	return breaker
}

// Workflow is the concrete 5-step reconciliation saga: fetch source
// records, fetch target records, match, persist results, notify.
type Workflow struct {
	adapters   *AdapterRegistry
	breakers   *breakerPool
	eventStore eventstore.Store
	publisher  events.Publisher
	dlqStore   dlq.Store
	logger     *slog.Logger
}

func NewWorkflow(
	adapters *AdapterRegistry,
	breakerConfig circuitbreaker.Config,
	eventStore eventstore.Store,
	publisher events.Publisher,
	dlqStore dlq.Store,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		adapters: adapters,
		breakers: &breakerPool{
			config:   breakerConfig,
			logger:   logger,
			breakers: make(map[string]*circuitbreaker.Breaker),
		},
		eventStore: eventStore,
		publisher:  publisher,
		dlqStore:   dlqStore,
		logger:     logger.With(logattr.Component("reconciliation.Workflow")),
	}
}

// Definition builds the saga definition registered with the orchestrator.
func (w *Workflow) Definition() saga.Definition {
	return saga.Definition{
		Type: SagaType,
		Steps: []saga.Step{
			{
				Name:      StepFetchSource,
				Execute:   w.fetchSource,
				Timeout:   fetchStepTimeout,
				Retryable: true,
				// Read-only step: nothing to compensate.
			},
			{
				Name:      StepFetchTarget,
				Execute:   w.fetchTarget,
				Timeout:   fetchStepTimeout,
				Retryable: true,
			},
			{
				// Rerunning the match would duplicate audit events, so the
				// step is explicitly non-retryable.
				Name:      StepMatch,
				Execute:   w.match,
				Retryable: false,
			},
			{
				Name:      StepPersistResults,
				Execute:   w.persistResults,
				Retryable: true,
			},
			{
				Name:      StepNotify,
				Execute:   w.notify,
				Retryable: true,
			},
		},
		OnComplete: w.onComplete,
		OnFailure:  w.onFailure,
	}
}

func (w *Workflow) fetchSource(ctx context.Context, state *saga.State) (map[string]any, werrors.WError) {
	records, werr := w.fetch(ctx, state, DataKeySourceAdapter)
	if werr != nil {
		return nil, werr
	}
	return map[string]any{
		dataKeySourceRecords: records,
		dataKeySourceCount:   len(records),
	}, nil
}

func (w *Workflow) fetchTarget(ctx context.Context, state *saga.State) (map[string]any, werrors.WError) {
	records, werr := w.fetch(ctx, state, DataKeyTargetAdapter)
	if werr != nil {
		return nil, werr
	}
	return map[string]any{
		dataKeyTargetRecords: records,
		dataKeyTargetCount:   len(records),
	}, nil
}

func (w *Workflow) fetch(ctx context.Context, state *saga.State, adapterKey string) ([]Record, werrors.WError) {
	adapterName, werr := stringData(state, adapterKey)
	if werr != nil {
		return nil, werr
	}
	options, werr := fetchOptionsFromState(state)
	if werr != nil {
		return nil, werr
	}
	adapter, werr := w.adapters.Get(adapterName)
	if werr != nil {
		return nil, werr
	}

	records, werr := circuitbreaker.Do(ctx, w.breakers.get(adapterName), func(ctx context.Context) ([]Record, werrors.WError) {
		return adapter.Fetch(ctx, options)
	})
	if werr != nil {
		return nil, werr
	}

	w.logger.Info("records fetched",
		logattr.SagaId(state.SagaId),
		logattr.Adapter(adapterName),
		slog.Int("count", len(records)))
	return records, nil
}

func (w *Workflow) match(ctx context.Context, state *saga.State) (map[string]any, werrors.WError) {
	reconciliationId, werr := stringData(state, DataKeyReconciliationId)
	if werr != nil {
		return nil, werr
	}
	sources, werr := recordsData(state, dataKeySourceRecords)
	if werr != nil {
		return nil, werr
	}
	targets, werr := recordsData(state, dataKeyTargetRecords)
	if werr != nil {
		return nil, werr
	}

	sourceAdapter, _ := stringData(state, DataKeySourceAdapter)
	targetAdapter, _ := stringData(state, DataKeyTargetAdapter)

	var emitErr werrors.WError
	emit := func(event Event) {
		if emitErr != nil {
			return
		}
		emitErr = w.emit(ctx, event, reconciliationId)
	}

	emit(NewOrdersFetched(RecordsFetchedData{
		ReconciliationId: reconciliationId,
		Adapter:          sourceAdapter,
		Count:            len(sources),
	}, state.TenantId, state.CorrelationId))
	emit(NewPaymentsFetched(RecordsFetchedData{
		ReconciliationId: reconciliationId,
		Adapter:          targetAdapter,
		Count:            len(targets),
	}, state.TenantId, state.CorrelationId))

	// Every match and unmatched record emits its own event at the moment it
	// is determined: the event stream is the audit trail.
	summary := MatchRecords(sources, targets,
		func(match Match) {
			emit(NewRecordMatched(RecordMatchedData{
				ReconciliationId: reconciliationId,
				SourceId:         match.SourceId,
				TargetId:         match.TargetId,
				Amount:           match.Amount,
				Currency:         match.Currency,
				Confidence:       match.Confidence,
				MatchedFields:    match.MatchedFields,
			}, state.TenantId, state.CorrelationId))
		},
		func(unmatched Unmatched) {
			emit(NewRecordUnmatched(RecordUnmatchedData{
				ReconciliationId: reconciliationId,
				RecordId:         unmatched.RecordId,
				Side:             unmatched.Side,
				Amount:           unmatched.Amount,
				Currency:         unmatched.Currency,
				Reason:           unmatched.Reason,
			}, state.TenantId, state.CorrelationId))
		},
	)
	if emitErr != nil {
		return nil, werrors.NewNonRetryableInternalError("failed emitting match audit events: %s", emitErr.Message())
	}

	w.logger.Info("matching finished",
		logattr.SagaId(state.SagaId),
		logattr.ReconciliationId(reconciliationId),
		slog.Int("matched", summary.MatchedCount),
		slog.Int("unmatched_sources", summary.UnmatchedSourceCount),
		slog.Int("unmatched_targets", summary.UnmatchedTargetCount))

	return map[string]any{
		DataKeyMatchedCount:         summary.MatchedCount,
		DataKeyUnmatchedSourceCount: summary.UnmatchedSourceCount,
		DataKeyUnmatchedTargetCount: summary.UnmatchedTargetCount,
		DataKeyDurationMs:           summary.DurationMs,
		DataKeyAccuracyPercentage:   summary.AccuracyPercentage,
	}, nil
}

func (w *Workflow) persistResults(ctx context.Context, state *saga.State) (map[string]any, werrors.WError) {
	reconciliationId, werr := stringData(state, DataKeyReconciliationId)
	if werr != nil {
		return nil, werr
	}

	// Retry safety: the summary may already be in the log if a previous
	// attempt crashed between the append and the state save.
	existing, werr := w.eventStore.GetEvents(ctx, reconciliationId, AggregateType, 0)
	if werr != nil {
		return nil, werr
	}
	for _, stored := range existing {
		if stored.EventType == ReconciliationCompletedType {
			return nil, nil
		}
	}

	event := NewReconciliationCompleted(w.summaryData(state, reconciliationId), state.TenantId, state.CorrelationId)
	if werr := w.append(ctx, event, reconciliationId); werr != nil {
		return nil, werr
	}
	return nil, nil
}

func (w *Workflow) notify(ctx context.Context, state *saga.State) (map[string]any, werrors.WError) {
	reconciliationId, werr := stringData(state, DataKeyReconciliationId)
	if werr != nil {
		return nil, werr
	}
	event := NewReconciliationCompleted(w.summaryData(state, reconciliationId), state.TenantId, state.CorrelationId)
	if err := w.publisher.Publish(ctx, event, Routing(event.Type())); err != nil {
		return nil, werrors.NewRetryableInternalError("failed publishing completion event: %s", err.Error())
	}
	return nil, nil
}

func (w *Workflow) summaryData(state *saga.State, reconciliationId string) ReconciliationCompletedData {
	return ReconciliationCompletedData{
		ReconciliationId:     reconciliationId,
		MatchedCount:         intData(state, DataKeyMatchedCount),
		UnmatchedSourceCount: intData(state, DataKeyUnmatchedSourceCount),
		UnmatchedTargetCount: intData(state, DataKeyUnmatchedTargetCount),
		DurationMs:           int64(intData(state, DataKeyDurationMs)),
		AccuracyPercentage:   floatData(state, DataKeyAccuracyPercentage),
	}
}

func (w *Workflow) onComplete(ctx context.Context, state *saga.State) {
	reconciliationId, _ := stringData(state, DataKeyReconciliationId)
	w.logger.Info("reconciliation completed",
		logattr.SagaId(state.SagaId),
		logattr.ReconciliationId(reconciliationId),
		logattr.TenantId(state.TenantId),
		logattr.CorrelationId(state.CorrelationId))
}

// onFailure emits the terminal failure event and routes the saga to the
// dead-letter queue for operator resolution.
func (w *Workflow) onFailure(ctx context.Context, state *saga.State, cause werrors.WError) {
	reconciliationId, _ := stringData(state, DataKeyReconciliationId)
	logger := w.logger.With(
		logattr.SagaId(state.SagaId),
		logattr.ReconciliationId(reconciliationId),
		logattr.TenantId(state.TenantId))

	event := NewReconciliationFailed(ReconciliationFailedData{
		ReconciliationId: reconciliationId,
		ErrorType:        fmt.Sprintf("%v", cause.Code()),
		ErrorMessage:     cause.Message(),
		Retryable:        cause.IsRetryable(),
	}, state.TenantId, state.CorrelationId)
	if werr := w.emit(ctx, event, reconciliationId); werr != nil {
		logger.Error("failed emitting failure event", logattr.Error(werr.Message()))
	}

	payload, err := json.Marshal(state.Data)
	if err != nil {
		payload = nil
	}
	entry := dlq.Entry{
		Id:            uuid.New(),
		SagaId:        state.SagaId,
		EventId:       event.ID(),
		ErrorType:     fmt.Sprintf("%v", cause.Code()),
		ErrorMessage:  cause.Message(),
		Payload:       payload,
		RetryCount:    saga.DefaultMaxRetries,
		MaxRetries:    saga.DefaultMaxRetries,
		TenantId:      state.TenantId,
		CorrelationId: state.CorrelationId,
		CreatedAt:     time.Now().UTC(),
	}
	var panicErr *saga.PanicError
	if errors.As(cause, &panicErr) {
		entry.Stack = panicErr.Stack
	}
	werr := w.dlqStore.AddEntry(ctx, entry)
	if werr != nil {
		logger.Error("failed adding dead letter entry", logattr.Error(werr.Message()))
		return
	}
	logger.Error("reconciliation failed", logattr.Error(cause.Message()))
}

// emit appends the event to the store and publishes it on the bus.
func (w *Workflow) emit(ctx context.Context, event Event, aggregateId string) werrors.WError {
	if werr := w.append(ctx, event, aggregateId); werr != nil {
		return werr
	}
	if err := w.publisher.Publish(ctx, event, Routing(event.Type())); err != nil {
		return werrors.NewRetryableInternalError("failed publishing event %s: %s", event.Type(), err.Error())
	}
	return nil
}

func (w *Workflow) append(ctx context.Context, event Event, aggregateId string) werrors.WError {
	stored, werr := ToStoredEvent(event, aggregateId)
	if werr != nil {
		return werr
	}
	return w.eventStore.Append(ctx, stored)
}

// ToStoredEvent converts a domain event into its event store envelope.
func ToStoredEvent(event Event, aggregateId string) (eventstore.StoredEvent, werrors.WError) {
	serialized, err := event.Serialize()
	if err != nil {
		return eventstore.StoredEvent{}, werrors.NewNonRetryableInternalError("failed serializing event %s: %s", event.Type(), err.Error())
	}
	eventId, err := uuid.Parse(event.ID())
	if err != nil {
		return eventstore.StoredEvent{}, werrors.NewNonRetryableInternalError("event %s has a non-uuid id: %s", event.Type(), event.ID())
	}
	return eventstore.StoredEvent{
		EventId:       eventId,
		AggregateId:   aggregateId,
		AggregateType: AggregateType,
		EventType:     event.Type(),
		EventVersion:  1,
		Data:          serialized,
		Metadata: eventstore.Metadata{
			TenantId:      event.TenantID(),
			CorrelationId: event.CorrelationID(),
			Timestamp:     event.CreatedAt(),
		},
		CreatedAt: event.CreatedAt(),
	}, nil
}

func stringData(state *saga.State, key string) (string, werrors.WError) {
	value, ok := state.Data[key].(string)
	if !ok || value == "" {
		return "", werrors.NewNonRetryableInternalError("saga %s is missing data key %s", state.SagaId, key)
	}
	return value, nil
}

func intData(state *saga.State, key string) int {
	switch v := state.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatData(state *saga.State, key string) float64 {
	switch v := state.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// recordsData decodes a record slice from the saga data. After a saga store
// round trip the value is generic JSON, so decoding goes through a
// marshal/unmarshal pass instead of a type assertion.
func recordsData(state *saga.State, key string) ([]Record, werrors.WError) {
	value, ok := state.Data[key]
	if !ok {
		return nil, werrors.NewNonRetryableInternalError("saga %s is missing data key %s", state.SagaId, key)
	}
	if records, ok := value.([]Record); ok {
		return records, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, werrors.NewNonRetryableInternalError("failed re-encoding %s: %s", key, err.Error())
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, werrors.NewNonRetryableInternalError("failed decoding %s: %s", key, err.Error())
	}
	return records, nil
}

func fetchOptionsFromState(state *saga.State) (FetchOptions, werrors.WError) {
	start, werr := timeData(state, DataKeyDateRangeStart)
	if werr != nil {
		return FetchOptions{}, werr
	}
	end, werr := timeData(state, DataKeyDateRangeEnd)
	if werr != nil {
		return FetchOptions{}, werr
	}
	return FetchOptions{DateRange: DateRange{Start: start, End: end}}, nil
}

func timeData(state *saga.State, key string) (time.Time, werrors.WError) {
	value, werr := stringData(state, key)
	if werr != nil {
		return time.Time{}, werr
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, werrors.NewNonRetryableInternalError("saga %s has a malformed %s: %s", state.SagaId, key, value)
	}
	return t, nil
}
