package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
	"ai_gateway/internal/nodes"
	"ai_gateway/internal/usage"
	"ai_gateway/internal/utils"
)

// NodeTestResponse is the body of POST /admin/nodes/{id}/test.
type NodeTestResponse struct {
	NodeID int64 `json:"node_id"`
	models.NodeHealth
}

// handleRegisterNode handles POST /admin/nodes
func (d *Dependencies) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var spec nodes.NodeSpec
	if err := utils.DecodeJSON(r, &spec); err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}

	node, err := d.Nodes.Register(r.Context(), spec)
	if err != nil {
		if gwerr.KindOf(err) != gwerr.KindValidation {
			d.logger.Error("Failed to register node", "name", spec.Name, "error", err)
		}
		utils.RespondWithGatewayError(w, err)
		return
	}

	d.logger.Info("Node registered via API", "node_id", node.ID, "by", caller(r).UserID)
	utils.RespondWithJSON(w, http.StatusCreated, node)
}

// handleListNodes handles GET /admin/nodes
func (d *Dependencies) handleListNodes(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"data": d.Nodes.List()})
}

// handleRemoveNode handles DELETE /admin/nodes/{id}. Removing an unknown
// node succeeds.
func (d *Dependencies) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}

	if err := d.Nodes.Remove(r.Context(), id); err != nil {
		d.logger.Error("Failed to remove node", "node_id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to remove node")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestNode handles POST /admin/nodes/{id}/test: probe now and report.
func (d *Dependencies) handleTestNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeID(r)
	if err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}
	if _, ok := d.Nodes.Get(id); !ok {
		utils.RespondWithError(w, http.StatusNotFound, "Node not found")
		return
	}

	health := d.Nodes.CheckHealth(r.Context(), id)
	utils.RespondWithJSON(w, http.StatusOK, NodeTestResponse{NodeID: id, NodeHealth: health})
}

func nodeID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, gwerr.Validation("id", "must be a positive integer")
	}
	return id, nil
}

// handleListDeadLetters handles GET /admin/usage/dead-letters
func (d *Dependencies) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultUsageLimit, maxUsageLimit)
	if err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}

	items, err := d.DeadLetters.DeadLetters(r.Context(), limit)
	if err != nil {
		d.logger.Error("Failed to list dead letters", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list dead letters")
		return
	}
	pending, err := d.DeadLetters.QueueLength(r.Context())
	if err != nil {
		d.logger.Warn("Failed to read usage queue length", "error", err)
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"data": items, "queued": pending})
}

// handleRetryDeadLetter handles POST /admin/usage/dead-letters/{id}/retry
func (d *Dependencies) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := d.DeadLetters.RetryDeadLetter(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, usage.ErrDeadLetterNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Dead letter not found")
	default:
		d.logger.Error("Failed to retry dead letter", "id", id, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to retry dead letter")
	}
}
