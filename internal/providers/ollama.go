package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
)

// OllamaAdapter talks to one self-hosted node running the Ollama API.
type OllamaAdapter struct {
	kind    models.ProviderKind
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func NewOllamaAdapter(node models.InferenceNode, client *http.Client, timeout time.Duration) *OllamaAdapter {
	if client == nil {
		client = NewHTTPClient()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &OllamaAdapter{
		kind:    models.SelfHostedNode(node.ID),
		client:  client,
		baseURL: node.BaseURL(),
		timeout: timeout,
	}
}

func (a *OllamaAdapter) Kind() models.ProviderKind {
	return a.kind
}

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

func (a *OllamaAdapter) send(ctx context.Context, route string, req GenerateRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(ollamaRequest{Model: req.Model, Messages: req.Messages, Stream: stream})
	if err != nil {
		return nil, gwerr.NewFatal(route, 0, "failed to marshal request", err)
	}

	resp, err := post(ctx, a.client, route, a.baseURL+"/api/chat", body, nil)
	if err != nil {
		return nil, nodeError(err)
	}
	return resp, nil
}

// nodeError treats a missing model as transient. The node's advertised
// list may be stale, and another candidate can serve the request.
func nodeError(err error) error {
	var pe *gwerr.ProviderError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
		pe.Transient = true
	}
	return err
}

// Generate sends a non-streamed chat request
func (a *OllamaAdapter) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	route := routeOf(a.kind, req.Model)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.send(ctx, route, req, false)
	if err != nil {
		return nil, err
	}

	data, err := readBody(route, resp)
	if err != nil {
		return nil, err
	}
	if msg := gjson.GetBytes(data, "error"); msg.Exists() {
		return nil, gwerr.NewTransient(route, resp.StatusCode, msg.String(), nil)
	}

	return &Reply{
		Text:             gjson.GetBytes(data, "message.content").String(),
		PromptTokens:     int(gjson.GetBytes(data, "prompt_eval_count").Int()),
		CompletionTokens: int(gjson.GetBytes(data, "eval_count").Int()),
	}, nil
}

// GenerateStream opens an NDJSON stream
func (a *OllamaAdapter) GenerateStream(ctx context.Context, req GenerateRequest) (Stream, error) {
	route := routeOf(a.kind, req.Model)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)

	resp, err := a.send(ctx, route, req, true)
	if err != nil {
		cancel()
		return nil, err
	}

	return newLineStream(ctx, cancel, route, resp.Body, ollamaStreamDecoder(route), false), nil
}

func ollamaStreamDecoder(route string) decodeFunc {
	return func(line []byte) (chunk, error) {
		if len(line) == 0 {
			return chunk{}, nil
		}
		if !gjson.ValidBytes(line) {
			return chunk{}, gwerr.NewTransient(route, 0, "malformed stream line", nil)
		}
		if msg := gjson.GetBytes(line, "error"); msg.Exists() {
			return chunk{}, gwerr.NewTransient(route, 0, msg.String(), nil)
		}

		return chunk{
			text:             gjson.GetBytes(line, "message.content").String(),
			done:             gjson.GetBytes(line, "done").Bool(),
			promptTokens:     int(gjson.GetBytes(line, "prompt_eval_count").Int()),
			completionTokens: int(gjson.GetBytes(line, "eval_count").Int()),
		}, nil
	}
}

// OllamaProber asks nodes which models they have installed.
type OllamaProber struct {
	client *http.Client
}

func NewOllamaProber(client *http.Client) *OllamaProber {
	if client == nil {
		client = NewHTTPClient()
	}
	return &OllamaProber{client: client}
}

// ListModels calls GET /api/tags. The caller bounds the call with ctx.
func (p *OllamaProber) ListModels(ctx context.Context, node models.InferenceNode) ([]string, error) {
	route := models.SelfHostedNode(node.ID).String()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, node.BaseURL()+"/api/tags", nil)
	if err != nil {
		return nil, gwerr.NewFatal(route, 0, "failed to create request", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(route, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusError(route, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := readBody(route, resp)
	if err != nil {
		return nil, err
	}

	names := gjson.GetBytes(data, "models.#.name").Array()
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n.String() != "" {
			out = append(out, n.String())
		}
	}
	return out, nil
}
