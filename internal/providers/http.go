package providers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"ai_gateway/internal/gwerr"
)

// DefaultRequestTimeout bounds a provider call when none is configured.
const DefaultRequestTimeout = 60 * time.Second

const maxErrorBody = 64 << 10

// NewHTTPClient returns the pooled client shared by all adapters. There is
// no client-level timeout; each call carries its own deadline so streams
// are not cut off mid-reply.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

// post sends a JSON body and returns the response when the status is 2xx.
// Any other outcome is translated into a gwerr type and the body is closed.
func post(ctx context.Context, client *http.Client, route, url string, body []byte, auth *keyHeader) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.NewFatal(route, 0, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if auth != nil {
		if err := auth.apply(ctx, httpReq); err != nil {
			return nil, &gwerr.AuthenticationError{Route: route, Message: "credential unavailable: " + err.Error()}
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(route, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(route, resp.StatusCode, errorMessage(data))
	}

	return resp, nil
}

// classifyTransportError maps network-level failures. Deadlines become
// timeouts, caller cancellation is fatal (nobody is waiting for a retry),
// and everything else (refused, reset, DNS) is transient.
func classifyTransportError(route string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return gwerr.NewTimeout(route, err)
	}
	if errors.Is(err, context.Canceled) {
		return gwerr.NewFatal(route, 0, "request cancelled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gwerr.NewTimeout(route, err)
	}
	return gwerr.NewTransient(route, 0, "connection failed", err)
}

// statusError maps a non-2xx HTTP status.
func statusError(route string, status int, message string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &gwerr.AuthenticationError{Route: route, StatusCode: status, Message: message}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &gwerr.ProviderError{Route: route, StatusCode: status, Message: message, Transient: true, Timeout: true}
	case status == http.StatusTooManyRequests || status >= 500:
		return gwerr.NewTransient(route, status, message, nil)
	default:
		return gwerr.NewFatal(route, status, message, nil)
	}
}

// errorMessage pulls a human-readable message out of an error body. OpenAI
// and Gemini use {"error":{"message":...}}, Ollama uses {"error":"..."}.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return msg.String()
		}
		if msg := gjson.GetBytes(body, "error"); msg.Type == gjson.String {
			return msg.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

func readBody(route string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(route, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, gwerr.NewTransient(route, resp.StatusCode, "malformed response body", nil)
	}
	return data, nil
}
