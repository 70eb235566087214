package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"ai_gateway/internal/models"
)

// NodeRepository handles inference node database operations
type NodeRepository struct {
	db *DB
}

// NewNodeRepository creates a new node repository
func NewNodeRepository(db *DB) *NodeRepository {
	return &NodeRepository{db: db}
}

const nodeColumns = `id, name, hostname, port, is_public, health_status, last_seen,
		       advertised_models, last_response_time_ms, created_at`

// Create inserts a node and fills in its generated id and creation time.
func (r *NodeRepository) Create(ctx context.Context, node *models.InferenceNode) error {
	query := `
		INSERT INTO inference_nodes (name, hostname, port, is_public, health_status, advertised_models)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	if node.Status == "" {
		node.Status = models.HealthUnknown
	}
	if node.AdvertisedModels == nil {
		node.AdvertisedModels = pq.StringArray{}
	}

	err := r.db.conn.QueryRowxContext(ctx, query,
		node.Name, node.Hostname, node.Port, node.IsPublic, node.Status, node.AdvertisedModels,
	).Scan(&node.ID, &node.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	return nil
}

// GetByID retrieves a node by ID
func (r *NodeRepository) GetByID(ctx context.Context, id int64) (*models.InferenceNode, error) {
	var node models.InferenceNode
	query := `SELECT ` + nodeColumns + ` FROM inference_nodes WHERE id = $1`

	err := r.db.conn.GetContext(ctx, &node, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return &node, nil
}

// List returns all nodes ordered by id
func (r *NodeRepository) List(ctx context.Context) ([]*models.InferenceNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM inference_nodes ORDER BY id`

	var nodes []*models.InferenceNode
	if err := r.db.conn.SelectContext(ctx, &nodes, query); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	return nodes, nil
}

// Delete removes a node. Deleting a missing node is not an error.
func (r *NodeRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.conn.ExecContext(ctx, `DELETE FROM inference_nodes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return nil
}

// SaveHealth persists the latest probe result for a node.
func (r *NodeRepository) SaveHealth(ctx context.Context, id int64, health models.NodeHealth) error {
	query := `
		UPDATE inference_nodes
		SET health_status = $2, last_seen = $3, advertised_models = $4, last_response_time_ms = $5
		WHERE id = $1
	`

	advertised := health.AdvertisedModels
	if advertised == nil {
		advertised = pq.StringArray{}
	}

	result, err := r.db.conn.ExecContext(ctx, query, id, health.Status, health.LastSeen, advertised, health.LastResponseTimeMS)
	if err != nil {
		return fmt.Errorf("failed to save node health: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNodeNotFound
	}

	return nil
}
