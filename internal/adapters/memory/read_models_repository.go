package memory

import (
	"context"
	"sync"
	"time"

	"reconciliation-engine/internal/domain/projections"

	"github.com/walletera/werrors"
)

// ReadModelsRepository holds the projection read models in memory.
type ReadModelsRepository struct {
	mu              sync.Mutex
	summaries       map[string]projections.ReconciliationSummary
	usage           map[string]projections.TenantUsage
	hotspots        map[string]map[string]projections.ErrorHotspot
	usageApplied    map[string]struct{}
	failuresApplied map[string]struct{}
}

var _ projections.Repository = (*ReadModelsRepository)(nil)

func NewReadModelsRepository() *ReadModelsRepository {
	return &ReadModelsRepository{
		summaries:       make(map[string]projections.ReconciliationSummary),
		usage:           make(map[string]projections.TenantUsage),
		hotspots:        make(map[string]map[string]projections.ErrorHotspot),
		usageApplied:    make(map[string]struct{}),
		failuresApplied: make(map[string]struct{}),
	}
}

func (r *ReadModelsRepository) UpsertSummary(ctx context.Context, summary projections.ReconciliationSummary) werrors.WError {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[summary.ReconciliationId] = summary
	return nil
}

func (r *ReadModelsRepository) GetSummary(ctx context.Context, reconciliationId string) (projections.ReconciliationSummary, werrors.WError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary, found := r.summaries[reconciliationId]
	if !found {
		return projections.ReconciliationSummary{}, werrors.NewResourceNotFoundError("reconciliation summary not found: " + reconciliationId)
	}
	return summary, nil
}

func (r *ReadModelsRepository) ApplyUsage(ctx context.Context, eventId string, tenantId string, delta projections.UsageDelta) werrors.WError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, applied := r.usageApplied[eventId]; applied {
		return nil
	}
	r.usageApplied[eventId] = struct{}{}
	usage := r.usage[tenantId]
	usage.TenantId = tenantId
	usage.RunsStarted += delta.RunsStarted
	usage.RunsCompleted += delta.RunsCompleted
	usage.RunsFailed += delta.RunsFailed
	usage.RecordsMatched += delta.RecordsMatched
	usage.RecordsUnmatched += delta.RecordsUnmatched
	r.usage[tenantId] = usage
	return nil
}

func (r *ReadModelsRepository) GetUsage(ctx context.Context, tenantId string) (projections.TenantUsage, werrors.WError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage, found := r.usage[tenantId]
	if !found {
		return projections.TenantUsage{TenantId: tenantId}, nil
	}
	return usage, nil
}

func (r *ReadModelsRepository) RecordFailure(ctx context.Context, eventId string, tenantId string, errorType string, message string, at time.Time) werrors.WError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, applied := r.failuresApplied[eventId]; applied {
		return nil
	}
	r.failuresApplied[eventId] = struct{}{}
	tenantHotspots, found := r.hotspots[tenantId]
	if !found {
		tenantHotspots = make(map[string]projections.ErrorHotspot)
		r.hotspots[tenantId] = tenantHotspots
	}
	hotspot := tenantHotspots[errorType]
	hotspot.TenantId = tenantId
	hotspot.ErrorType = errorType
	hotspot.Count++
	hotspot.LastMessage = message
	hotspot.LastSeenAt = at
	tenantHotspots[errorType] = hotspot
	return nil
}

func (r *ReadModelsRepository) GetErrorHotspots(ctx context.Context, tenantId string) ([]projections.ErrorHotspot, werrors.WError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hotspots []projections.ErrorHotspot
	for _, hotspot := range r.hotspots[tenantId] {
		hotspots = append(hotspots, hotspot)
	}
	return hotspots, nil
}
