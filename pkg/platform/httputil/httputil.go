// Package httputil writes JSON responses in the shape every endpoint shares:
// {"error": "<code>", "error_description": "<text>"} for failures.
package httputil

import (
	"encoding/json"
	"net/http"
)

const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal_error"
	CodeUnavailable  = "service_unavailable"
)

var codeStatus = map[string]int{
	CodeBadRequest:   http.StatusBadRequest,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeInternal:     http.StatusInternalServerError,
	CodeUnavailable:  http.StatusServiceUnavailable,
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps code to a status and writes the error body. Internal
// errors never carry a description.
func WriteError(w http.ResponseWriter, code, description string) {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
		code = CodeInternal
	}
	if code == CodeInternal {
		description = ""
	}
	WriteJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}
