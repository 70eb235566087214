// Package utils holds HTTP response helpers shared by handlers and
// middleware.
package utils

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"ai_gateway/internal/gwerr"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error    string          `json:"error"`
	Code     string          `json:"code,omitempty"`
	Field    string          `json:"field,omitempty"`
	Attempts []gwerr.Attempt `json:"attempts,omitempty"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// StatusFor maps a gateway error to its HTTP status.
func StatusFor(err error) int {
	switch gwerr.KindOf(err) {
	case gwerr.KindValidation:
		return http.StatusBadRequest
	case gwerr.KindRequestedProviderUnavailable, gwerr.KindNoAvailableProvider:
		return http.StatusServiceUnavailable
	case gwerr.KindAuthentication, gwerr.KindProvider:
		return http.StatusBadGateway
	case gwerr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse renders err for clients. Internal errors are not echoed.
func NewErrorResponse(err error) ErrorResponse {
	kind := gwerr.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: string(kind)}

	var (
		validation *gwerr.ValidationError
		none       *gwerr.NoAvailableProviderError
	)
	switch {
	case errors.As(err, &validation):
		resp.Field = validation.Field
	case errors.As(err, &none):
		resp.Attempts = none.Attempts
	case kind == gwerr.KindInternal:
		resp.Error = "internal error"
	}
	return resp
}

// RespondWithGatewayError writes err with the status StatusFor picks.
func RespondWithGatewayError(w http.ResponseWriter, err error) {
	RespondWithJSON(w, StatusFor(err), NewErrorResponse(err))
}

// DecodeJSON reads a JSON body into v, rejecting unknown fields and bodies
// larger than MaxBodyBytes. Failures are validation errors.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return gwerr.Validation("body", "request body is empty")
		}
		return gwerr.Validation("body", "malformed JSON: %v", err)
	}
	return nil
}
