// Package storage persists nodes, encrypted credentials and usage records
// in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB is the shared connection pool.
type DB struct {
	conn *sqlx.DB
}

// DBConfig holds the connection URL and pool settings.
type DBConfig struct {
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewDB connects to PostgreSQL and configures the pool.
func NewDB(cfg DBConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{conn: conn}, nil
}

// NewDBFromConn wraps an existing connection (used with sqlmock in tests).
func NewDBFromConn(conn *sqlx.DB) *DB {
	return &DB{conn: conn}
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Health pings the server and runs a trivial query, so a pool that can
// connect but not execute is reported unhealthy.
func (db *DB) Health(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var one int
	if err := db.conn.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// Stats exposes pool statistics for the metrics gauges.
func (db *DB) Stats() sql.DBStats {
	return db.conn.Stats()
}

func (db *DB) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, nil)
}

// Migrate creates the gateway tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}

func (db *DB) NewNodeRepository() *NodeRepository {
	return NewNodeRepository(db)
}

func (db *DB) NewCredentialRepository() *CredentialRepository {
	return NewCredentialRepository(db)
}

func (db *DB) NewUsageRepository() *UsageRepository {
	return NewUsageRepository(db)
}
