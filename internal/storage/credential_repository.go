package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ai_gateway/internal/models"
)

// CredentialRepository handles encrypted provider credential storage
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert stores the credential, replacing any existing key for the same
// user and provider.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.CredentialRecord) error {
	query := `
		INSERT INTO provider_credentials (user_id, provider, encrypted_key, masked_key, default_model)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, provider) DO UPDATE
		SET encrypted_key = EXCLUDED.encrypted_key,
		    masked_key = EXCLUDED.masked_key,
		    default_model = EXCLUDED.default_model,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.db.conn.QueryRowxContext(ctx, query,
		cred.UserID, cred.Provider, cred.EncryptedKey, cred.MaskedKey, cred.DefaultModel,
	).Scan(&cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	return nil
}

// Get retrieves the credential a user holds for provider
func (r *CredentialRepository) Get(ctx context.Context, userID int64, provider string) (*models.CredentialRecord, error) {
	var cred models.CredentialRecord
	query := `
		SELECT user_id, provider, encrypted_key, masked_key, default_model, created_at, updated_at
		FROM provider_credentials
		WHERE user_id = $1 AND provider = $2
	`

	err := r.db.conn.GetContext(ctx, &cred, query, userID, provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// ListByUser returns every credential a user holds, ordered by provider
func (r *CredentialRepository) ListByUser(ctx context.Context, userID int64) ([]*models.CredentialRecord, error) {
	query := `
		SELECT user_id, provider, encrypted_key, masked_key, default_model, created_at, updated_at
		FROM provider_credentials
		WHERE user_id = $1
		ORDER BY provider
	`

	var creds []*models.CredentialRecord
	if err := r.db.conn.SelectContext(ctx, &creds, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	return creds, nil
}
