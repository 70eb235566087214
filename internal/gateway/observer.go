package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
)

// Endpoints recorded with each outcome.
const (
	EndpointGenerate = "generate"
	EndpointStream   = "generate_stream"
)

// Outcome describes one finished request, successful or not.
type Outcome struct {
	RequestID uuid.UUID
	Request   models.GenerationRequest
	Endpoint  string
	StartedAt time.Time
	Latency   time.Duration

	// Route is the last route dispatched to, empty if none was resolved
	Route   string
	Display string

	Text             string
	PromptTokens     int // as reported by the provider, 0 if unknown
	CompletionTokens int

	Attempts  []gwerr.Attempt
	Err       error
	Abandoned bool // the stream consumer went away before completion
}

// Success reports whether a reply was delivered in full.
func (o Outcome) Success() bool {
	return o.Err == nil && !o.Abandoned
}

// Dispatches counts adapter calls made for the request, including the one
// that produced the reply or stream.
func (o Outcome) Dispatches() int {
	n := len(o.Attempts)
	if o.Route != "" && (n == 0 || o.Attempts[n-1].Route != o.Route) {
		n++
	}
	return n
}

// Observer is notified once per request after it reaches a terminal state.
// Observers run on the request goroutine; slow work should be queued.
type Observer interface {
	Observe(ctx context.Context, outcome Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, outcome Outcome)

func (f ObserverFunc) Observe(ctx context.Context, outcome Outcome) {
	f(ctx, outcome)
}
