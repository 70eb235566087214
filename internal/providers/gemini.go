package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GeminiAdapter talks to the Google Generative Language API.
type GeminiAdapter struct {
	kind    models.ProviderKind
	client  *http.Client
	baseURL string
	timeout time.Duration
}

func NewGeminiAdapter(name, baseURL string, client *http.Client, timeout time.Duration) *GeminiAdapter {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if client == nil {
		client = NewHTTPClient()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	return &GeminiAdapter{
		kind:    models.CloudProvider(name),
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

func (a *GeminiAdapter) Kind() models.ProviderKind {
	return a.kind
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

// toGeminiRequest maps chat turns onto Gemini contents. Gemini calls the
// assistant "model".
func toGeminiRequest(messages []models.Message) geminiRequest {
	var out geminiRequest
	for _, m := range messages {
		switch m.Role {
		case models.RoleAssistant:
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return out
}

func (a *GeminiAdapter) endpoint(model, method string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s", a.baseURL, url.PathEscape(model), method)
}

// Generate calls generateContent
func (a *GeminiAdapter) Generate(ctx context.Context, req GenerateRequest) (*Reply, error) {
	route := routeOf(a.kind, req.Model)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := json.Marshal(toGeminiRequest(req.Messages))
	if err != nil {
		return nil, gwerr.NewFatal(route, 0, "failed to marshal request", err)
	}

	resp, err := post(ctx, a.client, route, a.endpoint(req.Model, "generateContent"), body, googleKey(req.Credential))
	if err != nil {
		return nil, err
	}

	data, err := readBody(route, resp)
	if err != nil {
		return nil, err
	}

	if reason := gjson.GetBytes(data, "promptFeedback.blockReason"); reason.Exists() {
		return nil, gwerr.NewFatal(route, resp.StatusCode, "prompt blocked: "+reason.String(), nil)
	}
	if !gjson.GetBytes(data, "candidates.0").Exists() {
		return nil, gwerr.NewTransient(route, resp.StatusCode, "response has no candidates", nil)
	}

	prompt, completion := geminiUsage(data)
	return &Reply{
		Text:             geminiText(data),
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}, nil
}

// GenerateStream calls streamGenerateContent in SSE mode
func (a *GeminiAdapter) GenerateStream(ctx context.Context, req GenerateRequest) (Stream, error) {
	route := routeOf(a.kind, req.Model)
	ctx, cancel := context.WithTimeout(ctx, a.timeout)

	body, err := json.Marshal(toGeminiRequest(req.Messages))
	if err != nil {
		cancel()
		return nil, gwerr.NewFatal(route, 0, "failed to marshal request", err)
	}

	resp, err := post(ctx, a.client, route, a.endpoint(req.Model, "streamGenerateContent")+"?alt=sse", body, googleKey(req.Credential))
	if err != nil {
		cancel()
		return nil, err
	}

	// Gemini has no terminal marker; a clean EOF ends the stream
	return newLineStream(ctx, cancel, route, resp.Body, geminiStreamDecoder(route), true), nil
}

func geminiStreamDecoder(route string) decodeFunc {
	return func(line []byte) (chunk, error) {
		payload, ok := ssePayload(line)
		if !ok {
			return chunk{}, nil
		}
		if !gjson.ValidBytes(payload) {
			return chunk{}, gwerr.NewTransient(route, 0, "malformed stream event", nil)
		}
		if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
			return chunk{}, gwerr.NewTransient(route, 0, msg.String(), nil)
		}

		prompt, completion := geminiUsage(payload)
		return chunk{
			text:             geminiText(payload),
			promptTokens:     prompt,
			completionTokens: completion,
		}, nil
	}
}

func geminiText(data []byte) string {
	var sb strings.Builder
	for _, part := range gjson.GetBytes(data, "candidates.0.content.parts.#.text").Array() {
		sb.WriteString(part.String())
	}
	return sb.String()
}

func geminiUsage(data []byte) (int, int) {
	return int(gjson.GetBytes(data, "usageMetadata.promptTokenCount").Int()),
		int(gjson.GetBytes(data, "usageMetadata.candidatesTokenCount").Int())
}
