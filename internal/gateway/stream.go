package gateway

import (
	"context"
	"strings"
	"sync"

	"ai_gateway/internal/providers"
	"ai_gateway/internal/router"
)

// ReplyStream relays fragments from the adapter stream and reports the
// outcome once the stream ends or is closed. It is not safe for concurrent
// use.
type ReplyStream struct {
	gateway *Gateway
	ctx     context.Context
	inner   providers.Stream
	route   *router.RouteInfo
	outcome Outcome

	text     strings.Builder
	fragment string
	err      error
	done     bool
	once     sync.Once
}

// Route is the human-readable route, e.g. "Mac M1 Studio (llama3.1)".
func (s *ReplyStream) Route() string { return s.route.Display }

// Identifier is the canonical identifier of the route.
func (s *ReplyStream) Identifier() string { return s.route.Route() }

func (s *ReplyStream) RequestID() string { return s.outcome.RequestID.String() }

// Next advances to the next fragment.
func (s *ReplyStream) Next() bool {
	if s.done {
		return false
	}
	if s.inner.Next() {
		s.fragment = s.inner.Fragment()
		s.text.WriteString(s.fragment)
		return true
	}

	s.done = true
	s.fragment = ""
	s.err = s.inner.Err()
	s.report(false)
	return false
}

func (s *ReplyStream) Fragment() string { return s.fragment }

// Err is the mid-stream failure, if any.
func (s *ReplyStream) Err() error { return s.err }

// Text is everything delivered so far.
func (s *ReplyStream) Text() string { return s.text.String() }

// Close releases the adapter stream. Closing before the end marks the
// request as abandoned and cancels the upstream call.
func (s *ReplyStream) Close() error {
	err := s.inner.Close()
	if !s.done {
		s.done = true
		s.report(true)
	}
	return err
}

func (s *ReplyStream) report(abandoned bool) {
	s.once.Do(func() {
		out := s.outcome
		out.Text = s.text.String()
		out.Abandoned = abandoned
		if u, ok := s.inner.(providers.UsageReporter); ok {
			out.PromptTokens, out.CompletionTokens = u.Usage()
		}
		if abandoned {
			s.gateway.logger.Info("Stream abandoned by consumer", "request_id", out.RequestID, "route", out.Route)
		}
		s.gateway.finish(s.ctx, out, s.err)
	})
}
