package credentials

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai_gateway/internal/models"
	"ai_gateway/internal/storage"
)

// MemoryRepository keeps credential records in process. Used when no
// database is configured and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[int64]map[string]models.CredentialRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]map[string]models.CredentialRecord)}
}

func (r *MemoryRepository) Upsert(ctx context.Context, cred *models.CredentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	byProvider, ok := r.records[cred.UserID]
	if !ok {
		byProvider = make(map[string]models.CredentialRecord)
		r.records[cred.UserID] = byProvider
	}

	if existing, ok := byProvider[cred.Provider]; ok {
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	byProvider[cred.Provider] = *cred
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, userID int64, provider string) (*models.CredentialRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[userID][provider]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}
	return &rec, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID int64) ([]*models.CredentialRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.CredentialRecord, 0, len(r.records[userID]))
	for _, rec := range r.records[userID] {
		rec := rec
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
