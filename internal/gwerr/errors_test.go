package gwerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", Validation("prompt", "must not be empty"), KindValidation},
		{"requested", &RequestedProviderUnavailableError{Identifier: "client:1:llama3", Reason: "offline"}, KindRequestedProviderUnavailable},
		{"no provider", &NoAvailableProviderError{}, KindNoAvailableProvider},
		{"auth", &AuthenticationError{Route: "openai:gpt-4o", StatusCode: 401}, KindAuthentication},
		{"provider", NewFatal("openai:gpt-4o", 400, "bad request", nil), KindProvider},
		{"timeout", NewTimeout("openai:gpt-4o", context.DeadlineExceeded), KindTimeout},
		{"wrapped provider", fmt.Errorf("dispatch: %w", NewTransient("x", 503, "", nil)), KindProvider},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewTransient("openai:gpt-4o", 503, "unavailable", nil)))
	assert.True(t, IsTransient(NewTimeout("openai:gpt-4o", context.DeadlineExceeded)))
	assert.False(t, IsTransient(NewFatal("openai:gpt-4o", 400, "bad request", nil)))
	assert.False(t, IsTransient(&AuthenticationError{}))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestProviderErrorUnwrap(t *testing.T) {
	err := NewTimeout("gemini:gemini-1.5-flash", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
}

func TestNoAvailableProviderErrorListsAttempts(t *testing.T) {
	err := &NoAvailableProviderError{Attempts: []Attempt{
		{Route: "client:1:llama3", Reason: "connection refused"},
		{Route: "openai:gpt-4o-mini", Reason: "status 503"},
	}}
	msg := err.Error()
	assert.Contains(t, msg, "client:1:llama3 (connection refused)")
	assert.Contains(t, msg, "openai:gpt-4o-mini (status 503)")
}
