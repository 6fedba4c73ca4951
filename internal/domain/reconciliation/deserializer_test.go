package reconciliation_test

import (
	"io"
	"log/slog"
	"testing"

	"reconciliation-engine/internal/domain/reconciliation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeserializer() *reconciliation.Deserializer {
	return reconciliation.NewDeserializer(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDeserializer_RoundTripsStartedEvent(t *testing.T) {
	original := reconciliation.NewReconciliationStarted(reconciliation.ReconciliationStartedData{
		ReconciliationId: "rec-1",
		JobId:            "job-1",
		TenantId:         "tenant-1",
		SourceAdapter:    "orders-api",
		TargetAdapter:    "payments-api",
		DateRange:        fetchWindow,
	}, "corr-1")
	raw, err := original.Serialize()
	require.NoError(t, err)

	event, err := newTestDeserializer().Deserialize(raw)
	require.NoError(t, err)

	started, ok := event.(reconciliation.ReconciliationStarted)
	require.True(t, ok)
	assert.Equal(t, original.ID(), started.ID())
	assert.Equal(t, "corr-1", started.CorrelationID())
	assert.Equal(t, "orders-api", started.Data.SourceAdapter)
}

func TestDeserializer_RoundTripsFailedEvent(t *testing.T) {
	original := reconciliation.NewReconciliationFailed(reconciliation.ReconciliationFailedData{
		ReconciliationId: "rec-1",
		ErrorType:        reconciliation.ErrorTypeCancellation,
		ErrorMessage:     "cancelled by operator",
	}, "tenant-1", "corr-1")
	raw, err := original.Serialize()
	require.NoError(t, err)

	event, err := newTestDeserializer().Deserialize(raw)
	require.NoError(t, err)

	failed, ok := event.(reconciliation.ReconciliationFailed)
	require.True(t, ok)
	assert.Equal(t, reconciliation.ErrorTypeCancellation, failed.Data.ErrorType)
	assert.Equal(t, "tenant-1", failed.TenantID())
}

func TestDeserializer_SkipsUnknownEventType(t *testing.T) {
	event, err := newTestDeserializer().Deserialize([]byte(`{"type":"SomethingNewer","data":{}}`))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestDeserializer_RejectsMalformedPayload(t *testing.T) {
	_, err := newTestDeserializer().Deserialize([]byte(`not json`))
	require.Error(t, err)
}
