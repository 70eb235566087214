package providers

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter talks to an OpenAI-compatible chat completions API.
type OpenAIAdapter struct {
	kind    models.ProviderKind
	client  *http.Client
	baseURL string
	timeout time.Duration
}

// NewOpenAIAdapter creates an adapter for the cloud provider registered
// under name.
func NewOpenAIAdapter(name, baseURL string, client *http.Client, timeout time.Duration) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	if client == nil {
		client = NewHTTPClient()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &OpenAIAdapter{
		kind:    models.CloudProvider(name),
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

// Kind returns the provider kind
func (a *OpenAIAdapter) Kind() models.ProviderKind {
	return a.kind
}

type openAIRequest struct {
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

func (a *OpenAIAdapter) body(req GenerateRequest, stream bool) ([]byte, error) {
	body, err := json.Marshal(openAIRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, err
	}
	if stream {
		// Ask for a trailing usage chunk so streamed calls still get counted
		body, err = sjson.SetBytes(body, "stream_options.include_usage", true)
	}
	return body, err
}

// Generate sends a chat completion request
func (a *OpenAIAdapter) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	route := routeOf(a.kind, req.Model)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := a.body(req, false)
	if err != nil {
		return nil, gwerr.NewFatal(route, 0, "failed to marshal request", err)
	}

	resp, err := post(ctx, a.client, route, a.baseURL+"/chat/completions", body, bearerKey(req.Credential))
	if err != nil {
		return nil, err
	}

	data, err := readBody(route, resp)
	if err != nil {
		return nil, err
	}

	choice := gjson.GetBytes(data, "choices.0.message.content")
	if !choice.Exists() {
		return nil, gwerr.NewTransient(route, resp.StatusCode, "response has no choices", nil)
	}

	return &Reply{
		Text:             choice.String(),
		PromptTokens:     int(gjson.GetBytes(data, "usage.prompt_tokens").Int()),
		CompletionTokens: int(gjson.GetBytes(data, "usage.completion_tokens").Int()),
	}, nil
}

// GenerateStream opens a server-sent events stream
func (a *OpenAIAdapter) GenerateStream(ctx context.Context, req GenerateRequest) (Stream, error) {
	route := routeOf(a.kind, req.Model)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)

	body, err := a.body(req, true)
	if err != nil {
		cancel()
		return nil, gwerr.NewFatal(route, 0, "failed to marshal request", err)
	}

	resp, err := post(ctx, a.client, route, a.baseURL+"/chat/completions", body, bearerKey(req.Credential))
	if err != nil {
		cancel()
		return nil, err
	}

	return newLineStream(ctx, cancel, route, resp.Body, openAIStreamDecoder(route), false), nil
}

func openAIStreamDecoder(route string) decodeFunc {
	return func(line []byte) (chunk, error) {
		payload, ok := ssePayload(line)
		if !ok {
			return chunk{}, nil
		}
		if string(payload) == "[DONE]" {
			return chunk{done: true}, nil
		}
		if !gjson.ValidBytes(payload) {
			return chunk{}, gwerr.NewTransient(route, 0, "malformed stream event", nil)
		}
		if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
			return chunk{}, gwerr.NewTransient(route, 0, msg.String(), nil)
		}

		return chunk{
			text:             gjson.GetBytes(payload, "choices.0.delta.content").String(),
			promptTokens:     int(gjson.GetBytes(payload, "usage.prompt_tokens").Int()),
			completionTokens: int(gjson.GetBytes(payload, "usage.completion_tokens").Int()),
		}, nil
	}
}

// ssePayload returns the data of an SSE "data:" line. Comments, event
// names and blank separators are skipped.
func ssePayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	payload := bytes.TrimSpace(line[len("data:"):])
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}
