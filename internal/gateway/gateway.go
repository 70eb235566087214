// Package gateway is the single entry point for generation requests. It
// asks the router for a route, dispatches to the adapter and walks the
// fallback chain when a candidate fails.
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"ai_gateway/internal/clock"
	"ai_gateway/internal/config"
	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
	"ai_gateway/internal/router"
)

// Resolver is the router as seen by the gateway.
type Resolver interface {
	Resolve(ctx context.Context, req *models.GenerationRequest, excluded router.Exclusions) (*router.RouteInfo, error)
	Config() config.RoutingConfig
}

// Reply is a complete answer.
type Reply struct {
	RequestID  uuid.UUID `json:"request_id"`
	Text       string    `json:"text"`
	Route      string    `json:"route"`
	Identifier string    `json:"model"`
	Attempts   int       `json:"attempts"`
}

type Gateway struct {
	router    Resolver
	observers []Observer
	clock     clock.Clock
	logger    *logging.Logger
}

type Option func(*Gateway)

func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observers = append(g.observers, o) }
}

func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

func New(r Resolver, opts ...Option) *Gateway {
	g := &Gateway{
		router: r,
		clock:  clock.Real(),
		logger: logging.NewLogger("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs a request to completion.
func (g *Gateway) Generate(ctx context.Context, req *models.GenerationRequest) (*Reply, error) {
	out := g.begin(req, EndpointGenerate)

	var reply *providers.Reply
	route, err := g.dispatch(ctx, req, &out, func(route *router.RouteInfo, msgs []models.Message) error {
		var err error
		reply, err = route.Adapter.Generate(ctx, providers.GenerateRequest{
			Model:      route.Identifier.Model,
			Messages:   msgs,
			Credential: route.Credential,
		})
		return err
	})
	if err != nil {
		g.finish(ctx, out, err)
		return nil, err
	}

	out.Text = reply.Text
	out.PromptTokens = reply.PromptTokens
	out.CompletionTokens = reply.CompletionTokens
	g.finish(ctx, out, nil)

	return &Reply{
		RequestID:  out.RequestID,
		Text:       reply.Text,
		Route:      route.Display,
		Identifier: route.Route(),
		Attempts:   len(out.Attempts) + 1,
	}, nil
}

// Stream opens a streamed reply. Fallback applies until a stream is open;
// after that a failure ends the stream with an error and the fragments
// already delivered stand.
func (g *Gateway) Stream(ctx context.Context, req *models.GenerationRequest) (*ReplyStream, error) {
	out := g.begin(req, EndpointStream)

	var inner providers.Stream
	route, err := g.dispatch(ctx, req, &out, func(route *router.RouteInfo, msgs []models.Message) error {
		var err error
		inner, err = route.Adapter.GenerateStream(ctx, providers.GenerateRequest{
			Model:      route.Identifier.Model,
			Messages:   msgs,
			Credential: route.Credential,
		})
		return err
	})
	if err != nil {
		g.finish(ctx, out, err)
		return nil, err
	}

	return &ReplyStream{
		gateway: g,
		ctx:     context.WithoutCancel(ctx),
		inner:   inner,
		route:   route,
		outcome: out,
	}, nil
}

func (g *Gateway) begin(req *models.GenerationRequest, endpoint string) Outcome {
	return Outcome{
		RequestID: uuid.New(),
		Request:   *req,
		Endpoint:  endpoint,
		StartedAt: g.clock.Now(),
	}
}

// dispatch drives Routed -> Dispatched -> (Succeeded | FailedRetryable ->
// Routed | FailedFatal). call performs the adapter call for one route.
func (g *Gateway) dispatch(ctx context.Context, req *models.GenerationRequest, out *Outcome, call func(*router.RouteInfo, []models.Message) error) (*router.RouteInfo, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	messages := req.Messages()
	maxAttempts := g.router.Config().MaxAttempts
	excluded := router.Exclusions{}

	for {
		route, err := g.router.Resolve(ctx, req, excluded)
		if err != nil {
			var none *gwerr.NoAvailableProviderError
			if errors.As(err, &none) {
				return nil, &gwerr.NoAvailableProviderError{Attempts: append(out.Attempts, none.Attempts...)}
			}
			return nil, err
		}
		out.Route = route.Route()
		out.Display = route.Display

		err = call(route, messages)
		if err == nil {
			return route, nil
		}

		out.Attempts = append(out.Attempts, gwerr.Attempt{Route: route.Route(), Reason: err.Error()})

		if route.Explicit {
			// The caller asked for this route; never substitute another
			if gwerr.IsTransient(err) {
				return nil, &gwerr.RequestedProviderUnavailableError{Identifier: route.Route(), Reason: err.Error()}
			}
			return nil, err
		}
		if !gwerr.IsTransient(err) && !gwerr.IsAuthentication(err) {
			return nil, err
		}
		if len(out.Attempts) >= maxAttempts {
			g.logger.Warn("Attempt limit reached", "request_id", out.RequestID, "attempts", len(out.Attempts))
			return nil, &gwerr.NoAvailableProviderError{Attempts: out.Attempts}
		}
		if ctx.Err() != nil {
			return nil, gwerr.NewFatal(route.Route(), 0, "request cancelled", ctx.Err())
		}

		g.logger.Warn("Candidate failed, trying next",
			"request_id", out.RequestID,
			"route", route.Route(),
			"kind", gwerr.KindOf(err),
			"error", err,
		)
		excluded.Add(route.Route())
	}
}

func (g *Gateway) finish(ctx context.Context, out Outcome, err error) {
	out.Latency = g.clock.Since(out.StartedAt)
	out.Err = err
	g.notify(ctx, out)
}

// notify runs every observer, isolating the request from their failures.
func (g *Gateway) notify(ctx context.Context, out Outcome) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range g.observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					g.logger.Error("Usage observer panicked", "request_id", out.RequestID, "panic", rec)
				}
			}()
			o.Observe(ctx, out)
		}()
	}
}
