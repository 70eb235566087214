package providers

import (
	"context"
	"errors"
	"net/http"
)

// errNoCredential is reported when a cloud call carries no key source.
var errNoCredential = errors.New("no credential configured")

// keyHeader places an API key into one request header. The key is fetched
// from its source per request and never kept on the adapter.
type keyHeader struct {
	source CredentialSource
	name   string
	prefix string
}

func bearerKey(source CredentialSource) *keyHeader {
	return &keyHeader{source: source, name: "Authorization", prefix: "Bearer "}
}

func googleKey(source CredentialSource) *keyHeader {
	return &keyHeader{source: source, name: "x-goog-api-key"}
}

// apply resolves the key and sets the header on r.
func (k *keyHeader) apply(ctx context.Context, r *http.Request) error {
	if k.source == nil {
		return errNoCredential
	}
	key, err := k.source(ctx)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.New("API key is empty")
	}
	r.Header.Set(k.name, k.prefix+key)
	return nil
}
