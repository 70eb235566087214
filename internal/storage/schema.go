package storage

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS inference_nodes (
		id                    BIGSERIAL PRIMARY KEY,
		name                  TEXT NOT NULL,
		hostname              TEXT NOT NULL,
		port                  INTEGER NOT NULL CHECK (port BETWEEN 1 AND 65535),
		is_public             BOOLEAN NOT NULL DEFAULT FALSE,
		health_status         TEXT NOT NULL DEFAULT 'unknown',
		last_seen             TIMESTAMPTZ,
		advertised_models     TEXT[] NOT NULL DEFAULT '{}',
		last_response_time_ms BIGINT,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS provider_credentials (
		user_id       BIGINT NOT NULL,
		provider      TEXT NOT NULL,
		encrypted_key TEXT NOT NULL,
		masked_key    TEXT NOT NULL,
		default_model TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, provider)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id               UUID PRIMARY KEY,
		request_id       UUID NOT NULL,
		user_id          BIGINT NOT NULL,
		model_identifier TEXT NOT NULL DEFAULT '',
		route            TEXT NOT NULL DEFAULT '',
		endpoint         TEXT NOT NULL,
		prompt_tokens    INTEGER NOT NULL DEFAULT 0,
		response_tokens  INTEGER NOT NULL DEFAULT 0,
		latency_ms       BIGINT NOT NULL DEFAULT 0,
		conversation_id  BIGINT,
		attempts         INTEGER NOT NULL DEFAULT 0,
		success          BOOLEAN NOT NULL,
		error_kind       TEXT NOT NULL DEFAULT '',
		error_message    TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS usage_records_user_created_idx ON usage_records (user_id, created_at DESC)`,
}
