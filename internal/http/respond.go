package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/storefront/internal/domain"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
}

// statusOverrides lets a handler map a failure kind to a status other than
// the default one.
type statusOverrides map[domain.Kind]int

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, title string) {
	respondJSON(w, status, ErrorResponse{Title: title, Status: status})
}

func handleError(w http.ResponseWriter, r *http.Request, err error, overrides statusOverrides) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		slog.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status, ok := overrides[derr.Kind]
	if !ok {
		status = statusFor(derr.Kind)
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "kind", derr.Kind, "error", err)
	}
	respondError(w, status, derr.Title)
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindValidation, domain.KindGateway:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
