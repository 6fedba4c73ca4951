package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"reconciliation-engine/internal/domain/saga"

	"github.com/walletera/werrors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const sagaStatesCollection = "saga_states"

type sagaStateDocument struct {
	SagaId      string    `bson:"saga_id"`
	SagaType    string    `bson:"saga_type"`
	AggregateId string    `bson:"aggregate_id"`
	Status      string    `bson:"status"`
	State       []byte    `bson:"state"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// SagaStore persists the full serialized saga state on every save. The
// whole-blob replace keeps resume semantics trivial: whatever was last
// persisted is exactly what a restarted orchestrator reloads.
type SagaStore struct {
	client *mongo.Client
	dbName string
}

var _ saga.Store = (*SagaStore)(nil)

func NewSagaStore(client *mongo.Client, dbName string) *SagaStore {
	return &SagaStore{client: client, dbName: dbName}
}

func (s *SagaStore) SaveState(ctx context.Context, state *saga.State) werrors.WError {
	blob, err := json.Marshal(state)
	if err != nil {
		return werrors.NewNonRetryableInternalError("failed serializing saga state: %s", err.Error())
	}
	doc := sagaStateDocument{
		SagaId:      state.SagaId,
		SagaType:    state.SagaType,
		AggregateId: state.AggregateId,
		Status:      string(state.Status),
		State:       blob,
		UpdatedAt:   time.Now().UTC(),
	}
	_, err = s.collection().ReplaceOne(
		ctx,
		bson.M{"saga_id": state.SagaId, "saga_type": state.SagaType},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return werrors.NewRetryableInternalError("failed to save saga state: %s", err.Error())
	}
	return nil
}

func (s *SagaStore) GetState(ctx context.Context, sagaId string, sagaType string) (*saga.State, werrors.WError) {
	result := s.collection().FindOne(ctx, bson.M{"saga_id": sagaId, "saga_type": sagaType})
	return decodeSagaState(result, "saga not found: "+sagaId)
}

func (s *SagaStore) GetStateByAggregate(ctx context.Context, sagaType string, aggregateId string) (*saga.State, werrors.WError) {
	result := s.collection().FindOne(
		ctx,
		bson.M{"saga_type": sagaType, "aggregate_id": aggregateId},
		options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}}),
	)
	return decodeSagaState(result, "no saga of type "+sagaType+" for aggregate "+aggregateId)
}

func decodeSagaState(result *mongo.SingleResult, notFoundMsg string) (*saga.State, werrors.WError) {
	var doc sagaStateDocument
	if err := result.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, werrors.NewResourceNotFoundError(notFoundMsg)
		}
		return nil, werrors.NewRetryableInternalError("failed to get saga state: %s", err.Error())
	}
	var state saga.State
	if err := json.Unmarshal(doc.State, &state); err != nil {
		return nil, werrors.NewNonRetryableInternalError("failed deserializing saga state: %s", err.Error())
	}
	return &state, nil
}

func (s *SagaStore) collection() *mongo.Collection {
	return s.client.Database(s.dbName).Collection(sagaStatesCollection)
}
