package saga

import (
	"context"

	"github.com/walletera/werrors"
)

// Store persists saga state. Implementations must store a deep copy (the
// orchestrator keeps mutating its in-memory state after each save) and must
// maintain a secondary (sagaType, aggregateId) lookup.
type Store interface {
	SaveState(ctx context.Context, state *State) werrors.WError

	// GetState returns the persisted state or a resource-not-found error.
	GetState(ctx context.Context, sagaId string, sagaType string) (*State, werrors.WError)

	// GetStateByAggregate returns the most recently started saga of the
	// given type for the aggregate, or a resource-not-found error.
	GetStateByAggregate(ctx context.Context, sagaType string, aggregateId string) (*State, werrors.WError)
}
