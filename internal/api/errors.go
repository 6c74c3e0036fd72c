package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/empyre-fit/empyre/internal/coach"
	"github.com/empyre-fit/empyre/internal/engine"
	"github.com/empyre-fit/empyre/internal/plan"
	"github.com/empyre-fit/empyre/internal/profile"
	"github.com/empyre-fit/empyre/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeErrorBody(w, code, map[string]any{
		"message": fmt.Sprintf(format, args...),
		"type":    errType,
	})
}

func writeErrorBody(w http.ResponseWriter, code int, body map[string]any) {
	writeJSON(w, code, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

// writeError maps a domain error onto a status code and the JSON error
// envelope. Retryable failures carry "retryable": true.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		violation *plan.GuardrailViolationError
		parseErr  *coach.GenerationParseError
	)
	switch {
	case errors.Is(err, coach.ErrMissingUser),
		errors.Is(err, profile.ErrReservedField),
		errors.Is(err, profile.ErrInvalidValue):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)

	case errors.As(err, &violation):
		writeErrorBody(w, http.StatusUnprocessableEntity, map[string]any{
			"message":    "the generated plan failed safety checks",
			"type":       "guardrail_violation",
			"violations": violation.Violations,
		})

	case errors.As(err, &parseErr):
		slog.Error("unparseable model output", "path", r.URL.Path, "what", parseErr.What, "snippet", parseErr.Snippet, "error", err)
		httpError(w, http.StatusBadGateway, "generation_parse_error", "%v", err)

	case isRetryable(err):
		slog.Error("retryable failure", "path", r.URL.Path, "error", err)
		writeErrorBody(w, http.StatusServiceUnavailable, map[string]any{
			"message":   err.Error(),
			"type":      "unavailable_error",
			"retryable": true,
		})

	case errors.Is(err, engine.ErrUpstream):
		slog.Error("upstream failure", "path", r.URL.Path, "error", err)
		httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)

	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)

	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func isRetryable(err error) bool {
	return engine.IsTransient(err) || errors.Is(err, profile.ErrStoreUnavailable)
}
