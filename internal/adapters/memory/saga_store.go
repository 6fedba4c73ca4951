package memory

import (
	"context"
	"encoding/json"
	"sync"

	"reconciliation-engine/internal/domain/saga"

	"github.com/walletera/werrors"
)

type sagaKey struct {
	sagaId   string
	sagaType string
}

type aggregateIndexKey struct {
	sagaType    string
	aggregateId string
}

// SagaStore persists saga state in memory. Like the MongoDB adapter it
// stores the full serialized state blob on every save, so the orchestrator's
// in-memory state stays decoupled from what readers observe.
type SagaStore struct {
	mu          sync.Mutex
	states      map[sagaKey][]byte
	byAggregate map[aggregateIndexKey]string
}

var _ saga.Store = (*SagaStore)(nil)

func NewSagaStore() *SagaStore {
	return &SagaStore{
		states:      make(map[sagaKey][]byte),
		byAggregate: make(map[aggregateIndexKey]string),
	}
}

func (s *SagaStore) SaveState(ctx context.Context, state *saga.State) werrors.WError {
	blob, err := json.Marshal(state)
	if err != nil {
		return werrors.NewNonRetryableInternalError("failed serializing saga state: %s", err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[sagaKey{sagaId: state.SagaId, sagaType: state.SagaType}] = blob
	s.byAggregate[aggregateIndexKey{sagaType: state.SagaType, aggregateId: state.AggregateId}] = state.SagaId
	return nil
}

func (s *SagaStore) GetState(ctx context.Context, sagaId string, sagaType string) (*saga.State, werrors.WError) {
	s.mu.Lock()
	blob, found := s.states[sagaKey{sagaId: sagaId, sagaType: sagaType}]
	s.mu.Unlock()
	if !found {
		return nil, werrors.NewResourceNotFoundError("saga not found: " + sagaId)
	}
	var state saga.State
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, werrors.NewNonRetryableInternalError("failed deserializing saga state: %s", err.Error())
	}
	return &state, nil
}

func (s *SagaStore) GetStateByAggregate(ctx context.Context, sagaType string, aggregateId string) (*saga.State, werrors.WError) {
	s.mu.Lock()
	sagaId, found := s.byAggregate[aggregateIndexKey{sagaType: sagaType, aggregateId: aggregateId}]
	s.mu.Unlock()
	if !found {
		return nil, werrors.NewResourceNotFoundError("no saga of type " + sagaType + " for aggregate " + aggregateId)
	}
	return s.GetState(ctx, sagaId, sagaType)
}
