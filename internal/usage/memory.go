package usage

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"ai_gateway/internal/models"
)

// MemoryWriter keeps records in process for deployments without a database.
type MemoryWriter struct {
	mu      sync.RWMutex
	records []models.UsageRecord
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

func (m *MemoryWriter) Insert(ctx context.Context, record models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryWriter) InsertBatch(ctx context.Context, records []models.UsageRecord) error {
	for _, r := range records {
		if err := m.Insert(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// ListByUser returns a user's most recent records, newest first.
func (m *MemoryWriter) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.UsageRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].UserID != userID {
			continue
		}
		r := m.records[i]
		out = append(out, &r)
	}
	slices.SortStableFunc(out, func(a, b *models.UsageRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryWriter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
