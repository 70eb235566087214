// Package httpapi exposes the gateway over HTTP: generation (plain and
// server-sent events), model listing, credential management and node
// administration.
package httpapi

import (
	"context"
	"net/http"

	"ai_gateway/internal/auth"
	"ai_gateway/internal/gateway"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/middleware"
	"ai_gateway/internal/models"
	"ai_gateway/internal/nodes"
	"ai_gateway/internal/providers"
	"ai_gateway/internal/queue"
	"ai_gateway/internal/router"
	"ai_gateway/internal/utils"
)

// Generator is the gateway façade.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerationRequest) (*gateway.Reply, error)
	Stream(ctx context.Context, req *models.GenerationRequest) (*gateway.ReplyStream, error)
}

// ModelLister lists identifiers a caller may request explicitly.
type ModelLister interface {
	Available(ctx context.Context, userID int64, admin bool) ([]router.ModelOption, error)
}

// CloudCatalogue answers whether a cloud provider is configured.
type CloudCatalogue interface {
	Cloud(name string) (providers.CloudBackend, bool)
}

// CredentialStore is the write and masked-read side of the credential store.
type CredentialStore interface {
	Set(ctx context.Context, userID int64, provider, apiKey, defaultModel string) (*models.MaskedCredential, error)
	GetMasked(ctx context.Context, userID int64) ([]models.MaskedCredential, error)
}

// NodeAdmin is the node registry as seen by administrators.
type NodeAdmin interface {
	Register(ctx context.Context, spec nodes.NodeSpec) (*models.InferenceNode, error)
	Remove(ctx context.Context, id int64) error
	Get(id int64) (models.InferenceNode, bool)
	List() []models.InferenceNode
	CheckHealth(ctx context.Context, id int64) models.NodeHealth
}

// UsageReader lists a user's usage history.
type UsageReader interface {
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.UsageRecord, error)
}

// DeadLetterAdmin inspects and replays usage records that could not be
// persisted.
type DeadLetterAdmin interface {
	QueueLength(ctx context.Context) (int, error)
	DeadLetters(ctx context.Context, maxItems int) ([]queue.Parked[models.UsageRecord], error)
	RetryDeadLetter(ctx context.Context, id string) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Gateway     Generator
	Models      ModelLister
	Clouds      CloudCatalogue
	Credentials CredentialStore
	Nodes       NodeAdmin
	Usage       UsageReader     // optional
	DeadLetters DeadLetterAdmin // optional
	Metrics     MetricsExporter // optional

	JWTSecret []byte

	// Ready reports backing-store health for GET /health; nil means always
	// ready.
	Ready func(ctx context.Context) error

	logger *logging.Logger
}

// MetricsExporter serves the Prometheus endpoint and receives one
// observation per HTTP request.
type MetricsExporter interface {
	middleware.HTTPObserver
	Handler() http.Handler
}

// NewRouter mounts every route and wraps the mux with panic recovery and
// access logging.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.logger == nil {
		deps.logger = logging.NewLogger("httpapi")
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	var observer middleware.HTTPObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	return middleware.Recover(middleware.AccessLog(observer)(mux))
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Authenticated user endpoints
	user := middleware.JWTAuth(deps.JWTSecret)
	mux.Handle("POST /v1/generate", user(http.HandlerFunc(deps.handleGenerate)))
	mux.Handle("POST /v1/generate/stream", user(http.HandlerFunc(deps.handleGenerateStream)))
	mux.Handle("GET /v1/models", user(http.HandlerFunc(deps.handleListModels)))
	mux.Handle("PUT /v1/credentials/{provider}", user(http.HandlerFunc(deps.handleSetCredential)))
	mux.Handle("GET /v1/credentials", user(http.HandlerFunc(deps.handleListCredentials)))
	if deps.Usage != nil {
		mux.Handle("GET /v1/usage", user(http.HandlerFunc(deps.handleListUsage)))
	}

	// Node administration requires the admin role
	admin := middleware.JWTAuth(deps.JWTSecret, auth.RoleAdmin)
	mux.Handle("POST /admin/nodes", admin(http.HandlerFunc(deps.handleRegisterNode)))
	mux.Handle("GET /admin/nodes", admin(http.HandlerFunc(deps.handleListNodes)))
	mux.Handle("DELETE /admin/nodes/{id}", admin(http.HandlerFunc(deps.handleRemoveNode)))
	mux.Handle("POST /admin/nodes/{id}/test", admin(http.HandlerFunc(deps.handleTestNode)))
	if deps.DeadLetters != nil {
		mux.Handle("GET /admin/usage/dead-letters", admin(http.HandlerFunc(deps.handleListDeadLetters)))
		mux.Handle("POST /admin/usage/dead-letters/{id}/retry", admin(http.HandlerFunc(deps.handleRetryDeadLetter)))
	}

	// Health check endpoint - public
	mux.HandleFunc("GET /health", deps.handleHealth)

	// Metrics endpoint - public
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	if d.Ready != nil {
		if err := d.Ready(r.Context()); err != nil {
			d.logger.Warn("Health check failed", "error", err)
			utils.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller returns the authenticated identity. JWTAuth guarantees claims on
// every protected route.
func caller(r *http.Request) *auth.Claims {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		return &auth.Claims{}
	}
	return claims
}
