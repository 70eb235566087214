package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/router"
	"ai_gateway/internal/utils"
)

const (
	defaultUsageLimit = 50
	maxUsageLimit     = 500
)

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Data []router.ModelOption `json:"data"`
}

// SetCredentialRequest is the body of PUT /v1/credentials/{provider}.
type SetCredentialRequest struct {
	APIKey       string `json:"api_key"`
	DefaultModel string `json:"default_model,omitempty"`
}

// handleListModels handles GET /v1/models
func (d *Dependencies) handleListModels(w http.ResponseWriter, r *http.Request) {
	claims := caller(r)
	options, err := d.Models.Available(r.Context(), claims.UserID, claims.IsAdmin())
	if err != nil {
		d.logger.Error("Failed to list models", "user_id", claims.UserID, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}
	if options == nil {
		options = []router.ModelOption{}
	}
	utils.RespondWithJSON(w, http.StatusOK, ModelsResponse{Data: options})
}

// handleSetCredential handles PUT /v1/credentials/{provider}
func (d *Dependencies) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	provider := strings.TrimSpace(r.PathValue("provider"))
	if _, ok := d.Clouds.Cloud(provider); !ok {
		utils.RespondWithGatewayError(w, gwerr.Validation("provider", "unknown provider %q", provider))
		return
	}

	var req SetCredentialRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}

	masked, err := d.Credentials.Set(r.Context(), caller(r).UserID, provider, req.APIKey, req.DefaultModel)
	if err != nil {
		if gwerr.KindOf(err) != gwerr.KindValidation {
			d.logger.Error("Failed to store credential", "provider", provider, "error", err)
		}
		utils.RespondWithGatewayError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, masked)
}

// handleListCredentials handles GET /v1/credentials
func (d *Dependencies) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := d.Credentials.GetMasked(r.Context(), caller(r).UserID)
	if err != nil {
		d.logger.Error("Failed to list credentials", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list credentials")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"data": creds})
}

// handleListUsage handles GET /v1/usage?limit=N
func (d *Dependencies) handleListUsage(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultUsageLimit, maxUsageLimit)
	if err != nil {
		utils.RespondWithGatewayError(w, err)
		return
	}

	records, err := d.Usage.ListByUser(r.Context(), caller(r).UserID, limit)
	if err != nil {
		d.logger.Error("Failed to list usage", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list usage")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"data": records})
}

func queryLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, gwerr.Validation("limit", "must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
