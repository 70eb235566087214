// Package router turns a generation request into a concrete route: which
// adapter to call and with which model.
package router

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"ai_gateway/internal/config"
	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
)

// NodeSource is the read side of the node registry.
type NodeSource interface {
	Get(id int64) (models.InferenceNode, bool)
	ListCandidates(model string, publicOnly bool) []models.InferenceNode
}

// Backends builds adapters for the three provider kinds.
type Backends interface {
	Cloud(name string) (providers.CloudBackend, bool)
	CloudNames() []string
	Node(node models.InferenceNode) providers.Adapter
	Mock() providers.Adapter
}

// Credentials answers whether a user can call a cloud provider.
type Credentials interface {
	Has(ctx context.Context, userID int64, provider string) (bool, string, error)
	Source(userID int64, provider string) providers.CredentialSource
}

// RouteInfo is one resolved target. It lives for a single request.
type RouteInfo struct {
	Identifier models.ModelIdentifier
	Adapter    providers.Adapter
	Credential providers.CredentialSource
	Display    string
	Explicit   bool
}

// Route is the canonical identifier string.
func (r *RouteInfo) Route() string {
	return r.Identifier.String()
}

// Exclusions holds routes that already failed during this request.
type Exclusions map[string]struct{}

func (e Exclusions) Add(route string) { e[route] = struct{}{} }

func (e Exclusions) Has(route string) bool {
	_, ok := e[route]
	return ok
}

// Router resolves requests against the registry and configured providers.
type Router struct {
	nodes    NodeSource
	backends Backends
	creds    Credentials
	cfg      atomic.Pointer[config.RoutingConfig]
	logger   *logging.Logger
}

func New(nodes NodeSource, backends Backends, creds Credentials, cfg config.RoutingConfig) (*Router, error) {
	r := &Router{
		nodes:    nodes,
		backends: backends,
		creds:    creds,
		logger:   logging.NewLogger("router"),
	}
	if err := r.SetConfig(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// SetConfig swaps the routing configuration. In-flight requests keep the
// configuration they started with.
func (r *Router) SetConfig(cfg config.RoutingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.FallbackOrder = slices.Clone(cfg.FallbackOrder)
	r.cfg.Store(&cfg)
	r.logger.Info("Routing configuration applied",
		"fallback_order", fmt.Sprint(cfg.FallbackOrder),
		"default_provider", cfg.DefaultProvider,
		"max_attempts", cfg.MaxAttempts,
		"mock_enabled", cfg.MockEnabled,
	)
	return nil
}

func (r *Router) Config() config.RoutingConfig {
	return *r.cfg.Load()
}

// IsExplicit reports whether model names a provider rather than a bare
// model. Bare names may contain ":" (llama3.1:8b) so only known prefixes
// count.
func (r *Router) IsExplicit(model string) bool {
	prefix := models.Prefix(model)
	switch prefix {
	case "":
		return false
	case models.ClientPrefix, models.MockPrefix:
		return true
	}
	if _, ok := r.backends.Cloud(prefix); ok {
		return true
	}
	return models.ProviderType(prefix).IsValid()
}

// Resolve returns the first usable route not in excluded. Explicit
// identifiers are resolved directly and never fall back.
func (r *Router) Resolve(ctx context.Context, req *models.GenerationRequest, excluded Exclusions) (*RouteInfo, error) {
	if r.IsExplicit(req.Model) {
		return r.resolveExplicit(ctx, req)
	}

	cfg := r.cfg.Load()
	var found *RouteInfo
	attempts := r.walk(ctx, cfg, req, func(route *RouteInfo) bool {
		if excluded.Has(route.Route()) {
			return false
		}
		found = route
		return true
	})
	if found != nil {
		return found, nil
	}
	// Excluded routes are reported by the caller, which knows why they failed
	return nil, &gwerr.NoAvailableProviderError{Attempts: attempts}
}

// Candidates lists the whole fallback chain for a bare request, plus the
// stages that produced nothing.
func (r *Router) Candidates(ctx context.Context, req *models.GenerationRequest) ([]*RouteInfo, []gwerr.Attempt) {
	var routes []*RouteInfo
	attempts := r.walk(ctx, r.cfg.Load(), req, func(route *RouteInfo) bool {
		routes = append(routes, route)
		return false
	})
	return routes, attempts
}

func (r *Router) resolveExplicit(ctx context.Context, req *models.GenerationRequest) (*RouteInfo, error) {
	id, err := models.ParseModelIdentifier(req.Model)
	if err != nil {
		return nil, gwerr.Validation("model", "%v", err)
	}
	unavailable := func(format string, args ...any) error {
		return &gwerr.RequestedProviderUnavailableError{Identifier: id.String(), Reason: fmt.Sprintf(format, args...)}
	}

	switch id.Kind.Tag() {
	case models.KindSelfHosted:
		nodeID := id.Kind.NodeID()
		node, ok := r.nodes.Get(nodeID)
		if !ok {
			return nil, unavailable("node %d is not registered", nodeID)
		}
		if !node.IsPublic && !req.Admin {
			return nil, unavailable("node %d is private", nodeID)
		}
		if !node.Online() {
			return nil, unavailable("%s is %s", node.Name, node.Status)
		}
		if !node.Advertises(id.Model) {
			return nil, unavailable("%s does not serve %s", node.Name, id.Model)
		}
		return &RouteInfo{
			Identifier: id,
			Adapter:    r.backends.Node(node),
			Display:    node.Display(id.Model),
			Explicit:   true,
		}, nil

	case models.KindMock:
		if !r.cfg.Load().MockEnabled {
			return nil, unavailable("the mock provider is disabled")
		}
		return &RouteInfo{
			Identifier: id,
			Adapter:    r.backends.Mock(),
			Display:    id.String(),
			Explicit:   true,
		}, nil

	case models.KindCloud:
		name := id.Kind.Name()
		backend, ok := r.backends.Cloud(name)
		if !ok {
			return nil, unavailable("provider %s is not configured", name)
		}
		has, _, err := r.creds.Has(ctx, req.UserID, name)
		if err != nil {
			return nil, fmt.Errorf("credential lookup for %s: %w", name, err)
		}
		if !has {
			return nil, unavailable("no API key configured for %s", name)
		}
		return &RouteInfo{
			Identifier: id,
			Adapter:    backend.Adapter,
			Credential: r.creds.Source(req.UserID, name),
			Display:    id.String(),
			Explicit:   true,
		}, nil

	default:
		return nil, gwerr.Validation("model", "unsupported identifier %q", req.Model)
	}
}

// walk visits fallback candidates in configured stage order until visit
// returns true. It returns a note for every stage that had nothing to offer.
func (r *Router) walk(ctx context.Context, cfg *config.RoutingConfig, req *models.GenerationRequest, visit func(*RouteInfo) bool) []gwerr.Attempt {
	var attempts []gwerr.Attempt
	model := req.Model

	for _, stage := range cfg.FallbackOrder {
		switch stage {
		case config.StageNodes:
			nodes := r.nodes.ListCandidates(model, !req.Admin)
			offered := false
			for _, n := range nodes {
				m := model
				if m == "" {
					m = nodeDefaultModel(n, cfg.DefaultModel)
				}
				if m == "" {
					continue
				}
				offered = true
				route := &RouteInfo{
					Identifier: models.NewNodeIdentifier(n.ID, m),
					Adapter:    r.backends.Node(n),
					Display:    n.Display(m),
				}
				if visit(route) {
					return attempts
				}
			}
			if !offered {
				reason := "no online node"
				if model != "" {
					reason = "no online node serves " + model
				}
				attempts = append(attempts, gwerr.Attempt{Route: config.StageNodes, Reason: reason})
			}

		case config.StageCloud:
			route, reason := r.cloudCandidate(ctx, cfg, req)
			if route == nil {
				attempts = append(attempts, gwerr.Attempt{Route: cloudLabel(cfg), Reason: reason})
				continue
			}
			if visit(route) {
				return attempts
			}

		case config.StageMock:
			if !cfg.MockEnabled {
				attempts = append(attempts, gwerr.Attempt{Route: config.StageMock, Reason: "disabled"})
				continue
			}
			m := model
			if m == "" {
				m = providers.MockModel
			}
			id := models.NewMockIdentifier(m)
			if visit(&RouteInfo{Identifier: id, Adapter: r.backends.Mock(), Display: id.String()}) {
				return attempts
			}
		}
	}
	return attempts
}

func cloudLabel(cfg *config.RoutingConfig) string {
	if cfg.DefaultProvider == "" {
		return config.StageCloud
	}
	return cfg.DefaultProvider
}

func (r *Router) cloudCandidate(ctx context.Context, cfg *config.RoutingConfig, req *models.GenerationRequest) (*RouteInfo, string) {
	name := cfg.DefaultProvider
	if name == "" {
		return nil, "no default provider configured"
	}
	backend, ok := r.backends.Cloud(name)
	if !ok {
		return nil, "provider not configured"
	}

	has, userDefault, err := r.creds.Has(ctx, req.UserID, name)
	if err != nil {
		r.logger.Warn("Credential lookup failed", "user_id", req.UserID, "provider", name, "error", err)
		return nil, "credential lookup failed"
	}
	if !has {
		return nil, "no API key configured"
	}

	model := cloudModel(backend, req.Model, userDefault, cfg.DefaultModel)
	if model == "" {
		return nil, "no model configured"
	}

	id := models.NewCloudIdentifier(name, model)
	return &RouteInfo{
		Identifier: id,
		Adapter:    backend.Adapter,
		Credential: r.creds.Source(req.UserID, name),
		Display:    id.String(),
	}, ""
}

// cloudModel picks the model sent to the default cloud provider: the
// requested model if the provider offers it, then the user's preference,
// then the deployment default, then the provider's own default.
func cloudModel(backend providers.CloudBackend, requested, userDefault, deploymentDefault string) string {
	if backend.Offers(requested) {
		return requested
	}
	if userDefault != "" {
		return userDefault
	}
	if deploymentDefault != "" && backend.Offers(deploymentDefault) {
		return deploymentDefault
	}
	return backend.DefaultModel
}

func nodeDefaultModel(n models.InferenceNode, preferred string) string {
	if preferred != "" && n.Advertises(preferred) {
		return preferred
	}
	if len(n.AdvertisedModels) > 0 {
		return n.AdvertisedModels[0]
	}
	return ""
}
