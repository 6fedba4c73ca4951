package mongodb

import (
	"context"
	"errors"
	"time"

	"reconciliation-engine/internal/domain/projections"

	"github.com/walletera/werrors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	summariesCollection     = "reconciliation_summaries"
	tenantUsageCollection   = "tenant_usage"
	errorHotspotsCollection = "error_hotspots"
	appliedEventsCollection = "applied_events"
)

// ReadModelsRepository persists the denormalized projections in MongoDB.
// Counter mutations claim the event id in applied_events first, so a
// redelivered event never double-counts even across process restarts.
type ReadModelsRepository struct {
	client *mongo.Client
	dbName string
}

var _ projections.Repository = (*ReadModelsRepository)(nil)

func NewReadModelsRepository(client *mongo.Client, dbName string) *ReadModelsRepository {
	return &ReadModelsRepository{client: client, dbName: dbName}
}

func (r *ReadModelsRepository) UpsertSummary(ctx context.Context, summary projections.ReconciliationSummary) werrors.WError {
	_, err := r.collection(summariesCollection).ReplaceOne(
		ctx,
		bson.M{"_id": summary.ReconciliationId},
		summary,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return werrors.NewRetryableInternalError("failed to upsert reconciliation summary: %s", err.Error())
	}
	return nil
}

func (r *ReadModelsRepository) GetSummary(ctx context.Context, reconciliationId string) (projections.ReconciliationSummary, werrors.WError) {
	var summary projections.ReconciliationSummary
	err := r.collection(summariesCollection).FindOne(ctx, bson.M{"_id": reconciliationId}).Decode(&summary)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return projections.ReconciliationSummary{}, werrors.NewResourceNotFoundError("reconciliation summary not found: " + reconciliationId)
		}
		return projections.ReconciliationSummary{}, werrors.NewRetryableInternalError("failed to get reconciliation summary: %s", err.Error())
	}
	return summary, nil
}

func (r *ReadModelsRepository) ApplyUsage(ctx context.Context, eventId string, tenantId string, delta projections.UsageDelta) werrors.WError {
	claimed, werr := r.claimEvent(ctx, "usage/"+eventId)
	if werr != nil {
		return werr
	}
	if !claimed {
		return nil
	}
	_, err := r.collection(tenantUsageCollection).UpdateOne(
		ctx,
		bson.M{"_id": tenantId},
		bson.M{"$inc": bson.M{
			"runs_started":      delta.RunsStarted,
			"runs_completed":    delta.RunsCompleted,
			"runs_failed":       delta.RunsFailed,
			"records_matched":   delta.RecordsMatched,
			"records_unmatched": delta.RecordsUnmatched,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return werrors.NewRetryableInternalError("failed to apply tenant usage delta: %s", err.Error())
	}
	return nil
}

func (r *ReadModelsRepository) GetUsage(ctx context.Context, tenantId string) (projections.TenantUsage, werrors.WError) {
	var usage projections.TenantUsage
	err := r.collection(tenantUsageCollection).FindOne(ctx, bson.M{"_id": tenantId}).Decode(&usage)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return projections.TenantUsage{TenantId: tenantId}, nil
		}
		return projections.TenantUsage{}, werrors.NewRetryableInternalError("failed to get tenant usage: %s", err.Error())
	}
	return usage, nil
}

func (r *ReadModelsRepository) RecordFailure(ctx context.Context, eventId string, tenantId string, errorType string, message string, at time.Time) werrors.WError {
	claimed, werr := r.claimEvent(ctx, "failure/"+eventId)
	if werr != nil {
		return werr
	}
	if !claimed {
		return nil
	}
	_, err := r.collection(errorHotspotsCollection).UpdateOne(
		ctx,
		bson.M{"tenant_id": tenantId, "error_type": errorType},
		bson.M{
			"$inc": bson.M{"count": int64(1)},
			"$set": bson.M{"last_message": message, "last_seen_at": at},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return werrors.NewRetryableInternalError("failed to record failure hotspot: %s", err.Error())
	}
	return nil
}

func (r *ReadModelsRepository) GetErrorHotspots(ctx context.Context, tenantId string) ([]projections.ErrorHotspot, werrors.WError) {
	cursor, err := r.collection(errorHotspotsCollection).Find(
		ctx,
		bson.M{"tenant_id": tenantId},
		options.Find().SetSort(bson.D{{Key: "count", Value: -1}}),
	)
	if err != nil {
		return nil, werrors.NewRetryableInternalError("failed to find error hotspots: %s", err.Error())
	}
	var hotspots []projections.ErrorHotspot
	if err := cursor.All(ctx, &hotspots); err != nil {
		return nil, werrors.NewRetryableInternalError("failed to decode error hotspots: %s", err.Error())
	}
	return hotspots, nil
}

// claimEvent inserts the event id as a document _id. A duplicate key error
// means a previous delivery already applied the mutation.
func (r *ReadModelsRepository) claimEvent(ctx context.Context, key string) (bool, werrors.WError) {
	_, err := r.collection(appliedEventsCollection).InsertOne(ctx, bson.M{"_id": key, "applied_at": time.Now().UTC()})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, werrors.NewRetryableInternalError("failed to claim event id: %s", err.Error())
	}
	return true, nil
}

func (r *ReadModelsRepository) collection(name string) *mongo.Collection {
	return r.client.Database(r.dbName).Collection(name)
}
