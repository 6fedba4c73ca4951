package reconciliation

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"reconciliation-engine/pkg/logattr"

	"github.com/walletera/eventskit/events"
)

type Deserializer struct {
	logger *slog.Logger
}

func NewDeserializer(logger *slog.Logger) *Deserializer {
	return &Deserializer{
		logger: logger.With(logattr.Component("reconciliation.Deserializer")),
	}
}

// Deserialize rebuilds a reconciliation event from its wire form. Unknown
// event types are logged and skipped (nil event, nil error) so a consumer
// sharing the exchange with newer producers does not dead-letter them.
func (d *Deserializer) Deserialize(rawEvent []byte) (events.Event[Handler], error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(rawEvent, &envelope); err != nil {
		return nil, fmt.Errorf("failed unmarshalling event envelope: %w", err)
	}

	switch envelope.Type {
	case ReconciliationStartedType:
		return unmarshalEvent[ReconciliationStarted](rawEvent)
	case OrdersFetchedType:
		return unmarshalEvent[OrdersFetched](rawEvent)
	case PaymentsFetchedType:
		return unmarshalEvent[PaymentsFetched](rawEvent)
	case RecordMatchedType:
		return unmarshalEvent[RecordMatched](rawEvent)
	case RecordUnmatchedType:
		return unmarshalEvent[RecordUnmatched](rawEvent)
	case ReconciliationCompletedType:
		return unmarshalEvent[ReconciliationCompleted](rawEvent)
	case ReconciliationFailedType:
		return unmarshalEvent[ReconciliationFailed](rawEvent)
	default:
		d.logger.Warn("skipping event of unknown type", logattr.EventType(envelope.Type))
		return nil, nil
	}
}

func unmarshalEvent[E events.Event[Handler]](rawEvent []byte) (events.Event[Handler], error) {
	var event E
	if err := json.Unmarshal(rawEvent, &event); err != nil {
		return nil, fmt.Errorf("failed unmarshalling event: %w", err)
	}
	return event, nil
}
