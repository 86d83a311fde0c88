package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/logger"
)

const maxRequestBodySize = 10 << 10 // 10 KB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		}
		return v, false
	}
	return v, true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// errorKind maps a sentinel to its status code and error code.
type errorKind struct {
	sentinel error
	status   int
	code     string
	fallback string
}

// errorKinds is checked in order; the first match wins.
var errorKinds = []errorKind{
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "Resource not found"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT", "Resource is in a conflicting state"},
	{domain.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"},
	{domain.ErrAgentInactive, http.StatusBadRequest, "AGENT_INACTIVE", "Agent is inactive"},
	{domain.ErrSpendingLimitExceeded, http.StatusBadRequest, "SPENDING_LIMIT_EXCEEDED", "Spending limit exceeded"},
	{domain.ErrExecutionFailed, http.StatusInternalServerError, "TASK_EXECUTION_ERROR", "Task execution failed"},
	{domain.ErrOracle, http.StatusServiceUnavailable, "AI_SERVICE_ERROR", "AI service error"},
}

// writeDomainError answers with the status of the error's kind. Messages
// marked public are shown verbatim; anything else stays in the logs.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	msg, public := domain.PublicMessage(err)
	for _, k := range errorKinds {
		if !errors.Is(err, k.sentinel) {
			continue
		}
		if !public {
			msg = k.fallback
		}
		if k.status >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "request failed", "error", err)
		}
		writeError(w, k.status, k.code, msg)
		return
	}
	writeInternalError(w, r, err)
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "request failed", "error", err, "request_id", logger.RequestID(r.Context()))
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
}
