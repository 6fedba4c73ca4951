package memory

import (
	"context"
	"sync"
	"time"

	"reconciliation-engine/internal/domain/dlq"

	"github.com/google/uuid"
	"github.com/walletera/werrors"
)

// DLQStore keeps dead letter entries in memory, in creation order.
type DLQStore struct {
	mu      sync.Mutex
	entries []dlq.Entry
	byId    map[uuid.UUID]int
}

var _ dlq.Store = (*DLQStore)(nil)

func NewDLQStore() *DLQStore {
	return &DLQStore{byId: make(map[uuid.UUID]int)}
}

func (s *DLQStore) AddEntry(ctx context.Context, entry dlq.Entry) werrors.WError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byId[entry.Id]; exists {
		return werrors.NewNonRetryableInternalError("duplicate dead letter entry id: %s", entry.Id)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, entry)
	s.byId[entry.Id] = len(s.entries) - 1
	return nil
}

func (s *DLQStore) GetUnresolvedEntries(ctx context.Context, limit int64, offset int64) ([]dlq.Entry, werrors.WError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unresolved []dlq.Entry
	for _, entry := range s.entries {
		if !entry.Resolved() {
			unresolved = append(unresolved, entry)
		}
	}
	return paginate(unresolved, limit, offset), nil
}

func (s *DLQStore) GetEntriesByTenant(ctx context.Context, tenantId string, limit int64, offset int64) ([]dlq.Entry, werrors.WError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []dlq.Entry
	for _, entry := range s.entries {
		if entry.TenantId == tenantId {
			entries = append(entries, entry)
		}
	}
	return paginate(entries, limit, offset), nil
}

func (s *DLQStore) ResolveEntry(ctx context.Context, id uuid.UUID, notes string) werrors.WError {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, found := s.byId[id]
	if !found {
		return werrors.NewResourceNotFoundError("dead letter entry not found: " + id.String())
	}
	entry := &s.entries[idx]
	if entry.Resolved() {
		// Resolution is one-way: only the notes may change.
		entry.ResolutionNotes = notes
		return nil
	}
	now := time.Now().UTC()
	entry.ResolvedAt = &now
	entry.ResolutionNotes = notes
	return nil
}

func paginate(entries []dlq.Entry, limit int64, offset int64) []dlq.Entry {
	if offset >= int64(len(entries)) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < int64(len(entries)) {
		entries = entries[:limit]
	}
	result := make([]dlq.Entry, len(entries))
	copy(result, entries)
	return result
}
