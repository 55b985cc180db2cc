// Package api provides standardized helper functions for HTTP API responses.
package api

import (
	"encoding/json"
	"net/http"

	"thinknet-backend/internal/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Success sends a JSON response with optional data.
func Success(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error sends a plain error message.
func Error(w http.ResponseWriter, statusCode int, message string) {
	Success(w, statusCode, ErrorResponse{Error: message})
}

// WriteError maps err onto a status and a client-safe message.
func WriteError(w http.ResponseWriter, err error, requestID string) {
	code, message := errors.PublicMessage(err)
	Success(w, errors.HTTPStatus(err), ErrorResponse{Error: message, Code: code, RequestID: requestID})
}
