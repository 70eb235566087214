package providers

import (
	"context"

	"ai_gateway/internal/models"
)

// CredentialSource yields the plaintext API key for a single call. It is
// invoked immediately before the request is sent, and the result is not
// retained by the adapter.
type CredentialSource func(ctx context.Context) (string, error)

// GenerateRequest is the provider-neutral input to an adapter.
type GenerateRequest struct {
	Model      string
	Messages   []models.Message
	Credential CredentialSource // nil for nodes and mock
}

// Reply is a complete, non-streamed answer. Token counts are zero when the
// backend does not report them.
type Reply struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Stream is a lazy, forward-only sequence of text fragments. It can be
// consumed once. Close releases the underlying connection and cancels the
// in-flight request; it is safe to call more than once.
type Stream interface {
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// UsageReporter is implemented by streams that learn token counts from the
// backend. Values are only final once Next has returned false.
type UsageReporter interface {
	Usage() (promptTokens, completionTokens int)
}

// Adapter is the capability every backend exposes. Adapters never retry;
// failures are reported as gwerr types so the gateway can decide.
type Adapter interface {
	// Kind identifies the backend family and instance
	Kind() models.ProviderKind

	// Generate returns the whole reply
	Generate(ctx context.Context, req GenerateRequest) (*Reply, error)

	// GenerateStream opens a stream. Failures before the first fragment
	// are returned here; later ones surface through Stream.Err.
	GenerateStream(ctx context.Context, req GenerateRequest) (Stream, error)
}

func routeOf(kind models.ProviderKind, model string) string {
	return models.ModelIdentifier{Kind: kind, Model: model}.String()
}
