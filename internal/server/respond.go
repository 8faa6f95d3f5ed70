package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gezibash/drop/internal/middleware"
	"github.com/gezibash/drop/internal/objectstore"
)

type errorBody struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: status, Message: msg})
}

// statusOf maps the error taxonomy to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, objectstore.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, middleware.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, objectstore.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, objectstore.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, middleware.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	// Configuration and backend failures.
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	switch status {
	case http.StatusNotFound:
		msg = "not found"
	case http.StatusForbidden:
		msg = "password required or incorrect"
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "error", err)
	}
	writeJSONError(w, status, msg)
}

func rejectHook(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, middleware.ErrUnauthorized) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="drop"`)
	}
	writeError(w, r, err)
}
