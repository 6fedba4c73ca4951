package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/walletera/werrors"
)

// Record is one normalized payment record as returned by a provider adapter.
type Record struct {
	ID       string            `json:"id"`
	Amount   float64           `json:"amount"`
	Currency string            `json:"currency"`
	Date     time.Time         `json:"date"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type FetchOptions struct {
	DateRange DateRange         `json:"dateRange"`
	Config    map[string]string `json:"config,omitempty"`
}

// Adapter is the external provider contract. Implementations are opaque to
// the engine; every call goes through the circuit breaker.
type Adapter interface {
	Fetch(ctx context.Context, options FetchOptions) ([]Record, werrors.WError)
}

// AdapterRegistry resolves provider adapters by the name carried in
// reconciliation commands.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[string]Adapter)}
}

func (r *AdapterRegistry) Register(name string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

func (r *AdapterRegistry) Get(name string) (Adapter, werrors.WError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, werrors.NewNonRetryableInternalError("unknown provider adapter: %s", name)
	}
	return adapter, nil
}
