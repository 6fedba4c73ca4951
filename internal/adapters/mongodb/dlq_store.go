package mongodb

import (
	"context"
	"time"

	"reconciliation-engine/internal/domain/dlq"

	"github.com/google/uuid"
	"github.com/walletera/werrors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const deadLetterCollection = "dead_letter_queue"

// DLQStore persists dead letter entries in MongoDB.
type DLQStore struct {
	client *mongo.Client
	dbName string
}

var _ dlq.Store = (*DLQStore)(nil)

func NewDLQStore(client *mongo.Client, dbName string) *DLQStore {
	return &DLQStore{client: client, dbName: dbName}
}

func (s *DLQStore) AddEntry(ctx context.Context, entry dlq.Entry) werrors.WError {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.collection().InsertOne(ctx, entry)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return werrors.NewNonRetryableInternalError("duplicate dead letter entry id: %s", entry.Id)
		}
		return werrors.NewRetryableInternalError("failed to add dead letter entry: %s", err.Error())
	}
	return nil
}

func (s *DLQStore) GetUnresolvedEntries(ctx context.Context, limit int64, offset int64) ([]dlq.Entry, werrors.WError) {
	return s.findEntries(ctx, bson.M{"resolved_at": bson.M{"$exists": false}}, limit, offset)
}

func (s *DLQStore) GetEntriesByTenant(ctx context.Context, tenantId string, limit int64, offset int64) ([]dlq.Entry, werrors.WError) {
	return s.findEntries(ctx, bson.M{"tenant_id": tenantId}, limit, offset)
}

func (s *DLQStore) findEntries(ctx context.Context, filter bson.M, limit int64, offset int64) ([]dlq.Entry, werrors.WError) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, werrors.NewRetryableInternalError("failed to find dead letter entries: %s", err.Error())
	}
	var entries []dlq.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, werrors.NewRetryableInternalError("failed to decode dead letter entries: %s", err.Error())
	}
	return entries, nil
}

func (s *DLQStore) ResolveEntry(ctx context.Context, id uuid.UUID, notes string) werrors.WError {
	// Stamp the resolution time only if the entry is still unresolved.
	result, err := s.collection().UpdateOne(
		ctx,
		bson.M{"_id": id, "resolved_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"resolved_at": time.Now().UTC(), "resolution_notes": notes}},
	)
	if err != nil {
		return werrors.NewRetryableInternalError("failed to resolve dead letter entry: %s", err.Error())
	}
	if result.MatchedCount > 0 {
		return nil
	}
	// Already resolved, or missing. Re-resolving only updates the notes.
	result, err = s.collection().UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"resolution_notes": notes}},
	)
	if err != nil {
		return werrors.NewRetryableInternalError("failed to update dead letter entry notes: %s", err.Error())
	}
	if result.MatchedCount == 0 {
		return werrors.NewResourceNotFoundError("dead letter entry not found: " + id.String())
	}
	return nil
}

func (s *DLQStore) collection() *mongo.Collection {
	return s.client.Database(s.dbName).Collection(deadLetterCollection)
}
