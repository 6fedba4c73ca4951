package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStep_RetryBudget(t *testing.T) {
	assert.Equal(t, 0, Step{Retryable: false, MaxRetries: 5}.retryBudget())
	assert.Equal(t, DefaultMaxRetries, Step{Retryable: true}.retryBudget())
	assert.Equal(t, 5, Step{Retryable: true, MaxRetries: 5}.retryBudget())
	assert.Equal(t, 0, Step{Retryable: true, MaxRetries: -1}.retryBudget())
}

func TestRegistry_RegisterIsIdempotentByType(t *testing.T) {
	registry := NewRegistry()

	registry.Register(Definition{Type: "reconciliation", Steps: []Step{{Name: "original"}}})
	registry.Register(Definition{Type: "reconciliation", Steps: []Step{{Name: "replacement"}}})

	def, ok := registry.Get("reconciliation")
	assert.True(t, ok)
	assert.Equal(t, "original", def.Steps[0].Name)

	_, ok = registry.Get("unknown")
	assert.False(t, ok)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusCompensating.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
