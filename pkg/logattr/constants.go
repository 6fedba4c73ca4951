package logattr

import "log/slog"

func ServiceName(serviceName string) slog.Attr {
	return slog.String("service_name", serviceName)
}

func Component(component string) slog.Attr {
	return slog.String("component", component)
}

func SagaId(sagaId string) slog.Attr {
	return slog.String("saga_id", sagaId)
}

func SagaType(sagaType string) slog.Attr {
	return slog.String("saga_type", sagaType)
}

func Step(step string) slog.Attr {
	return slog.String("step", step)
}

func ReconciliationId(reconciliationId string) slog.Attr {
	return slog.String("reconciliation_id", reconciliationId)
}

func AggregateId(aggregateId string) slog.Attr {
	return slog.String("aggregate_id", aggregateId)
}

func TenantId(tenantId string) slog.Attr {
	return slog.String("tenant_id", tenantId)
}

func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

func Adapter(adapter string) slog.Attr {
	return slog.String("adapter", adapter)
}

func BreakerState(state string) slog.Attr {
	return slog.String("breaker_state", state)
}

func Error(err string) slog.Attr {
	return slog.String("error", err)
}

func CorrelationId(correlationId string) slog.Attr {
	return slog.String("correlation_id", correlationId)
}
