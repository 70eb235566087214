package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ai_gateway/internal/models"
)

// UsageRepository appends usage records. There is intentionally no update
// or delete path.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

const insertUsageQuery = `
	INSERT INTO usage_records (
		id, request_id, user_id, model_identifier, route, endpoint,
		prompt_tokens, response_tokens, latency_ms, conversation_id,
		attempts, success, error_kind, error_message, created_at
	) VALUES (
		:id, :request_id, :user_id, :model_identifier, :route, :endpoint,
		:prompt_tokens, :response_tokens, :latency_ms, :conversation_id,
		:attempts, :success, :error_kind, :error_message, :created_at
	)
`

func prepareRecord(record *models.UsageRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
}

// Insert writes a single record.
func (r *UsageRepository) Insert(ctx context.Context, record models.UsageRecord) error {
	prepareRecord(&record)
	if _, err := r.db.conn.NamedExecContext(ctx, insertUsageQuery, record); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// InsertBatch writes records in one transaction; either all land or none.
func (r *UsageRepository) InsertBatch(ctx context.Context, records []models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareNamedContext(ctx, insertUsageQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		record := records[i]
		prepareRecord(&record)
		if _, err := stmt.ExecContext(ctx, record); err != nil {
			return fmt.Errorf("failed to insert usage record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usage batch: %w", err)
	}
	return nil
}

// ListByUser returns a user's most recent records, newest first.
func (r *UsageRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.UsageRecord, error) {
	query := `
		SELECT id, request_id, user_id, model_identifier, route, endpoint,
		       prompt_tokens, response_tokens, latency_ms, conversation_id,
		       attempts, success, error_kind, error_message, created_at
		FROM usage_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var records []*models.UsageRecord
	if err := sqlx.SelectContext(ctx, r.db.conn, &records, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}
