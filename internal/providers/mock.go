package providers

import (
	"context"
	"fmt"
	"strings"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
)

// MockModel is used when the mock is selected without a model name.
const MockModel = "echo"

// MockAdapter answers without any I/O. The reply is a pure function of the
// model and the last user message.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func (a *MockAdapter) Kind() models.ProviderKind {
	return models.MockProvider()
}

// MockReply builds the canned answer for a request.
func MockReply(model string, messages []models.Message) string {
	if model == "" {
		model = MockModel
	}
	prompt := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			prompt = messages[i].Content
			break
		}
	}
	return fmt.Sprintf("[%s] You said: %s", model, prompt)
}

func (a *MockAdapter) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyTransportError(routeOf(a.Kind(), req.Model), err)
	}

	text := MockReply(req.Model, req.Messages)
	return &Reply{
		Text:             text,
		PromptTokens:     countWords(req.Messages),
		CompletionTokens: len(strings.Fields(text)),
	}, nil
}

func (a *MockAdapter) GenerateStream(ctx context.Context, req GenerateRequest) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyTransportError(routeOf(a.Kind(), req.Model), err)
	}

	text := MockReply(req.Model, req.Messages)
	words := strings.Fields(text)
	fragments := make([]string, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		fragments[i] = w
	}

	return &mockStream{
		ctx:       ctx,
		route:     routeOf(a.Kind(), req.Model),
		fragments: fragments,
		prompt:    countWords(req.Messages),
		index:     -1,
	}, nil
}

func countWords(messages []models.Message) int {
	n := 0
	for _, m := range messages {
		n += len(strings.Fields(m.Content))
	}
	return n
}

type mockStream struct {
	ctx       context.Context
	route     string
	fragments []string
	prompt    int
	index     int
	err       error
	closed    bool
}

func (s *mockStream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = gwerr.NewFatal(s.route, 0, "request cancelled", err)
		return false
	}
	if s.index+1 >= len(s.fragments) {
		return false
	}
	s.index++
	return true
}

func (s *mockStream) Fragment() string {
	if s.index < 0 || s.index >= len(s.fragments) {
		return ""
	}
	return s.fragments[s.index]
}

func (s *mockStream) Err() error { return s.err }

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}

func (s *mockStream) Usage() (int, int) {
	return s.prompt, len(s.fragments)
}
