package reconciliation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/walletera/eventskit/events"
	"github.com/walletera/werrors"
)

const (
	ReconciliationStartedType   = "ReconciliationStarted"
	OrdersFetchedType           = "OrdersFetched"
	PaymentsFetchedType         = "PaymentsFetched"
	RecordMatchedType           = "RecordMatched"
	RecordUnmatchedType         = "RecordUnmatched"
	ReconciliationCompletedType = "ReconciliationCompleted"
	ReconciliationFailedType    = "ReconciliationFailed"
)

// RabbitMQ routing for the stable event stream.
const ExchangeName = "reconciliation.events"

var routingKeys = map[string]string{
	ReconciliationStartedType:   "reconciliation.started",
	OrdersFetchedType:           "reconciliation.orders_fetched",
	PaymentsFetchedType:         "reconciliation.payments_fetched",
	RecordMatchedType:           "reconciliation.record_matched",
	RecordUnmatchedType:         "reconciliation.record_unmatched",
	ReconciliationCompletedType: "reconciliation.completed",
	ReconciliationFailedType:    "reconciliation.failed",
}

// Routing returns the bus routing info for an event type.
func Routing(eventType string) events.RoutingInfo {
	return events.RoutingInfo{
		Topic:      ExchangeName,
		RoutingKey: routingKeys[eventType],
	}
}

// Handler reacts to the reconciliation event stream.
type Handler interface {
	HandleReconciliationStarted(ctx context.Context, event ReconciliationStarted) werrors.WError
	HandleOrdersFetched(ctx context.Context, event OrdersFetched) werrors.WError
	HandlePaymentsFetched(ctx context.Context, event PaymentsFetched) werrors.WError
	HandleRecordMatched(ctx context.Context, event RecordMatched) werrors.WError
	HandleRecordUnmatched(ctx context.Context, event RecordUnmatched) werrors.WError
	HandleReconciliationCompleted(ctx context.Context, event ReconciliationCompleted) werrors.WError
	HandleReconciliationFailed(ctx context.Context, event ReconciliationFailed) werrors.WError
}

// Event is a reconciliation domain event: eventskit event data plus the
// tenant scope every event in this system carries.
type Event interface {
	events.Event[Handler]
	TenantID() string
}

type eventBase struct {
	Id             uuid.UUID `json:"id"`
	EventType      string    `json:"type"`
	AggrVersion    uint64    `json:"aggregateVersion"`
	CorrelationId  string    `json:"correlationId"`
	TenantId       string    `json:"tenantId"`
	EventCreatedAt time.Time `json:"createdAt"`
}

func newEventBase(eventType string, tenantId string, correlationId string) eventBase {
	return eventBase{
		Id:             uuid.New(),
		EventType:      eventType,
		CorrelationId:  correlationId,
		TenantId:       tenantId,
		EventCreatedAt: time.Now().UTC(),
	}
}

func (e eventBase) ID() string               { return e.Id.String() }
func (e eventBase) Type() string             { return e.EventType }
func (e eventBase) AggregateVersion() uint64 { return e.AggrVersion }
func (e eventBase) CorrelationID() string    { return e.CorrelationId }
func (e eventBase) TenantID() string         { return e.TenantId }
func (e eventBase) DataContentType() string  { return "application/json" }
func (e eventBase) CreatedAt() time.Time     { return e.EventCreatedAt }

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ReconciliationStartedData struct {
	ReconciliationId string    `json:"reconciliationId"`
	JobId            string    `json:"jobId"`
	TenantId         string    `json:"tenantId"`
	UserId           string    `json:"userId,omitempty"`
	SourceAdapter    string    `json:"sourceAdapter"`
	TargetAdapter    string    `json:"targetAdapter"`
	DateRange        DateRange `json:"dateRange"`
}

type ReconciliationStarted struct {
	eventBase
	Data ReconciliationStartedData `json:"data"`
}

func NewReconciliationStarted(data ReconciliationStartedData, correlationId string) ReconciliationStarted {
	return ReconciliationStarted{
		eventBase: newEventBase(ReconciliationStartedType, data.TenantId, correlationId),
		Data:      data,
	}
}

func (e ReconciliationStarted) Serialize() ([]byte, error) { return json.Marshal(e) }

func (e ReconciliationStarted) Accept(ctx context.Context, handler Handler) werrors.WError {
	return handler.HandleReconciliationStarted(ctx, e)
}

type RecordsFetchedData struct {
	ReconciliationId string `json:"reconciliationId"`
	Adapter          string `json:"adapter"`
	Count            int    `json:"count"`
}

type OrdersFetched struct {
	eventBase
	Data RecordsFetchedData `json:"data"`
}

func NewOrdersFetched(data RecordsFetchedData, tenantId string, correlationId string) OrdersFetched {
	return OrdersFetched{
		eventBase: newEventBase(OrdersFetchedType, tenantId, correlationId),
		Data:      data,
	}
}

func (e OrdersFetched) Serialize() ([]byte, error) { return json.Marshal(e) }

func (e OrdersFetched) Accept(ctx context.Context, handler Handler) werrors.WError {
	return handler.HandleOrdersFetched(ctx, e)
}

type PaymentsFetched struct {
	eventBase
	Data RecordsFetchedData `json:"data"`
}

func NewPaymentsFetched(data RecordsFetchedData, tenantId string, correlationId string) PaymentsFetched {
	return PaymentsFetched{
		eventBase: newEventBase(PaymentsFetchedType, tenantId, correlationId),
		Data:      data,
	}
}

func (e PaymentsFetched) Serialize() ([]byte, error) { return json.Marshal(e) }

func (e PaymentsFetched) Accept(ctx context.Context, handler Handler) werrors.WError {
	return handler.HandlePaymentsFetched(ctx, e)
}

type RecordMatchedData struct {
	ReconciliationId string   `json:"reconciliationId"`
	SourceId         string   `json:"sourceId"`
	TargetId         string   `json:"targetId"`
	Amount           float64  `json:"amount"`
	Currency         string   `json:"currency"`
	Confidence       float64  `json:"confidence"`
	MatchedFields    []string `json:"matchedFields"`
}

type RecordMatched struct {
	eventBase
	Data RecordMatchedData `json:"data"`
}

func NewRecordMatched(data RecordMatchedData, tenantId string, correlationId string) RecordMatched {
	return RecordMatched{
		eventBase: newEventBase(RecordMatchedType, tenantId, correlationId),
		Data:      data,
	}
}

func (e RecordMatched) Serialize() ([]byte, error) { return json.Marshal(e) }

func (e RecordMatched) Accept(ctx context.Context, handler Handler) werrors.WError {
	return handler.HandleRecordMatched(ctx, e)
}

type RecordUnmatchedData struct {
	ReconciliationId string  `json:"reconciliationId"`
	RecordId         string  `json:"recordId"`
	Side             string  `json:"side"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Reason           string  `json:"reason"`
}

type RecordUnmatched struct {
	eventBase
	Data RecordUnmatchedData `json:"data"`
}

func NewRecordUnmatched(data RecordUnmatchedData, tenantId string, correlationId string) RecordUnmatched {
	return RecordUnmatched{
		eventBase: newEventBase(RecordUnmatchedType, tenantId, correlationId),
		Data:      data,
	}
}

func (e RecordUnmatched) Serialize() ([]byte, error) { return json.Marshal(e) }

func (e RecordUnmatched) Accept(ctx context.Context, handler Handler) werrors.WError {
	return handler.HandleRecordUnmatched(ctx, e)
}

type ReconciliationCompletedData struct {
	ReconciliationId     string  `json:"reconciliationId"`
	MatchedCount         int     `json:"matchedCount"`
	UnmatchedSourceCount int     `json:"unmatchedSourceCount"`
	UnmatchedTargetCount int     `json:"unmatchedTargetCount"`
	DurationMs           int64   `json:"durationMs"`
	AccuracyPercentage   float64 `json:"accuracyPercentage"`
}

type ReconciliationCompleted struct {
	eventBase
	Data ReconciliationCompletedData `json:"data"`
}

func NewReconciliationCompleted(data ReconciliationCompletedData, tenantId string, correlationId string) ReconciliationCompleted {
	return ReconciliationCompleted{
		eventBase: newEventBase(ReconciliationCompletedType, tenantId, correlationId),
		Data:      data,
	}
}

func (e ReconciliationCompleted) Serialize() ([]byte, error) { return json.Marshal(e) }

func (e ReconciliationCompleted) Accept(ctx context.Context, handler Handler) werrors.WError {
	return handler.HandleReconciliationCompleted(ctx, e)
}

type ReconciliationFailedData struct {
	ReconciliationId string `json:"reconciliationId"`
	ErrorType        string `json:"errorType"`
	ErrorMessage     string `json:"errorMessage"`
	Retryable        bool   `json:"retryable"`
}

// ErrorTypeCancellation marks a ReconciliationFailed event produced by a
// cancel command. Cancellation and failure share one wire representation.
const ErrorTypeCancellation = "CancellationError"

type ReconciliationFailed struct {
	eventBase
	Data ReconciliationFailedData `json:"data"`
}

func NewReconciliationFailed(data ReconciliationFailedData, tenantId string, correlationId string) ReconciliationFailed {
	return ReconciliationFailed{
		eventBase: newEventBase(ReconciliationFailedType, tenantId, correlationId),
		Data:      data,
	}
}

func (e ReconciliationFailed) Serialize() ([]byte, error) { return json.Marshal(e) }

func (e ReconciliationFailed) Accept(ctx context.Context, handler Handler) werrors.WError {
	return handler.HandleReconciliationFailed(ctx, e)
}
