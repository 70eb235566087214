package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one append-only audit row per gateway request.
type UsageRecord struct {
	ID              uuid.UUID `db:"id" json:"id"`
	RequestID       uuid.UUID `db:"request_id" json:"request_id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	ModelIdentifier string    `db:"model_identifier" json:"model_identifier"`
	Route           string    `db:"route" json:"route"`
	Endpoint        string    `db:"endpoint" json:"endpoint"`
	PromptTokens    int       `db:"prompt_tokens" json:"prompt_tokens"`
	ResponseTokens  int       `db:"response_tokens" json:"response_tokens"`
	LatencyMS       int64     `db:"latency_ms" json:"latency_ms"`
	ConversationID  *int64    `db:"conversation_id" json:"conversation_id,omitempty"`
	Attempts        int       `db:"attempts" json:"attempts"`
	Success         bool      `db:"success" json:"success"`
	ErrorKind       string    `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage    string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
