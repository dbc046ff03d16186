// Package httputil writes JSON bodies and maps domain error codes to HTTP status.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "reliefhub/pkg/domain-errors"
)

// Detailer lets an error contribute extra fields to the error body.
type Detailer interface {
	ErrorDetails() map[string]any
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error": code, "error_description": msg}.
// Descriptions of internal and integrity errors are never exposed.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)

	retryable := code == dErrors.CodeContention || code == dErrors.CodeUnavailable
	body := map[string]any{"error": string(code)}
	if status < http.StatusInternalServerError || retryable {
		if msg := dErrors.Message(err); msg != "" {
			body["error_description"] = msg
		}
	}
	var d Detailer
	if errors.As(err, &d) {
		for k, v := range d.ErrorDetails() {
			body[k] = v
		}
	}
	if retryable {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, body)
}

// StatusFor maps a domain code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeCapacityExceeded, dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeContention, dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
