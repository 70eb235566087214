package models

import "time"

// CredentialRecord is a user's encrypted API key for one cloud provider.
// EncryptedKey is never serialized to clients; MaskedKey is computed when
// the key is stored so listing never needs to decrypt.
type CredentialRecord struct {
	UserID       int64     `db:"user_id" json:"user_id"`
	Provider     string    `db:"provider" json:"provider"`
	EncryptedKey string    `db:"encrypted_key" json:"-"`
	MaskedKey    string    `db:"masked_key" json:"masked_key"`
	DefaultModel string    `db:"default_model" json:"default_model,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// MaskedCredential is the client-facing view of a CredentialRecord.
type MaskedCredential struct {
	Provider     string    `json:"provider"`
	MaskedKey    string    `json:"masked_key"`
	DefaultModel string    `json:"default_model,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Masked strips the ciphertext.
func (c *CredentialRecord) Masked() MaskedCredential {
	return MaskedCredential{
		Provider:     c.Provider,
		MaskedKey:    c.MaskedKey,
		DefaultModel: c.DefaultModel,
		UpdatedAt:    c.UpdatedAt,
	}
}
