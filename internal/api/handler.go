// Package api provides HTTP handlers for the study server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avh-lab/repchat/internal/domain"
)

// Handler provides common handler utilities.
type Handler struct {
	frontendRedirectURL string
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(frontendURL string) *Handler {
	return &Handler{frontendRedirectURL: frontendURL}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DomainError maps a study error to its HTTP status and client message.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSession):
		Error(w, http.StatusUnauthorized, "invalid session")
	case errors.Is(err, domain.ErrUnknownConversation):
		Error(w, http.StatusNotFound, "unknown conversation")
	case errors.Is(err, domain.ErrInvalidStage):
		Error(w, http.StatusConflict, "operation not valid for current stage")
	case errors.Is(err, domain.ErrMalformedSubmission):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		Error(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes a JSON request body into v, rejecting bodies over 1MB.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return err
	}
	return nil
}
