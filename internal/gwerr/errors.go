// Package gwerr defines the closed set of errors the gateway surfaces to
// callers. Every failure that leaves the gateway is one of these types, so
// transports can map them to status codes with errors.As.
package gwerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the stable, machine-readable name of an error category.
type Kind string

const (
	KindValidation                   Kind = "validation_error"
	KindRequestedProviderUnavailable Kind = "requested_provider_unavailable"
	KindNoAvailableProvider          Kind = "no_available_provider"
	KindAuthentication               Kind = "authentication_error"
	KindProvider                     Kind = "provider_error"
	KindTimeout                      Kind = "timeout"
	KindInternal                     Kind = "internal_error"
)

// ValidationError reports a malformed request or input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RequestedProviderUnavailableError is returned when the caller named a
// provider or node explicitly and it cannot serve the request. The gateway
// never falls back in that case.
type RequestedProviderUnavailableError struct {
	Identifier string
	Reason     string
}

func (e *RequestedProviderUnavailableError) Error() string {
	return fmt.Sprintf("requested provider %s is unavailable: %s", e.Identifier, e.Reason)
}

// Attempt records one candidate the gateway considered or dispatched to.
type Attempt struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
}

// NoAvailableProviderError is returned when the fallback chain is exhausted.
type NoAvailableProviderError struct {
	Attempts []Attempt
}

func (e *NoAvailableProviderError) Error() string {
	if len(e.Attempts) == 0 {
		return "no available provider"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.Route, a.Reason))
	}
	return "no available provider; attempted: " + strings.Join(parts, ", ")
}

// AuthenticationError is returned when a backend rejects the credential.
type AuthenticationError struct {
	Route      string
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s rejected credentials (status %d): %s", e.Route, e.StatusCode, e.Message)
}

// ProviderError is a backend failure. Transient errors may be retried
// against another candidate; Timeout marks the transient subset caused by
// the request deadline.
type ProviderError struct {
	Route      string
	StatusCode int
	Message    string
	Transient  bool
	Timeout    bool
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Route)
	if e.Timeout {
		b.WriteString(": timed out")
	} else if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Message == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewTimeout builds the timeout flavour of ProviderError.
func NewTimeout(route string, err error) *ProviderError {
	return &ProviderError{Route: route, Transient: true, Timeout: true, Err: err}
}

// NewTransient builds a retryable ProviderError.
func NewTransient(route string, status int, message string, err error) *ProviderError {
	return &ProviderError{Route: route, StatusCode: status, Message: message, Transient: true, Err: err}
}

// NewFatal builds a non-retryable ProviderError.
func NewFatal(route string, status int, message string, err error) *ProviderError {
	return &ProviderError{Route: route, StatusCode: status, Message: message, Err: err}
}

// KindOf classifies err. Errors outside the closed set are internal.
func KindOf(err error) Kind {
	var (
		validation  *ValidationError
		requested   *RequestedProviderUnavailableError
		noProvider  *NoAvailableProviderError
		authErr     *AuthenticationError
		providerErr *ProviderError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &requested):
		return KindRequestedProviderUnavailable
	case errors.As(err, &noProvider):
		return KindNoAvailableProvider
	case errors.As(err, &authErr):
		return KindAuthentication
	case errors.As(err, &providerErr):
		if providerErr.Timeout {
			return KindTimeout
		}
		return KindProvider
	default:
		return KindInternal
	}
}

// IsTransient reports whether err is a ProviderError worth retrying elsewhere.
func IsTransient(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr) && providerErr.Transient
}

// IsAuthentication reports whether err is an AuthenticationError.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
