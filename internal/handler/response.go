package handler

// RESPONSE HELPERS:
// Every handler writes JSON through writeJSON and every failure through
// WriteError, so the API has exactly one success shape per route and one
// error shape overall:
//
//	{"error": "Email already exists", "code": "duplicate_key"}
//
// "error" is the human-readable message, "code" is stable and
// machine-readable.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/user-manager/internal/apperror"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// MessageResponse is the body of update and delete.
type MessageResponse struct {
	Message string `json:"message"`
}

type errorMapping struct {
	sentinel error
	status   int
	code     string
}

// Order matters only for errors wrapping more than one sentinel, which the
// services never produce.
var errorMappings = []errorMapping{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrDuplicateKey, http.StatusBadRequest, "duplicate_key"},
	{apperror.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{apperror.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{apperror.ErrStore, http.StatusInternalServerError, "store_error"},
}

// writeJSON sends data with the given status code.
//
// Headers and status must be set before the body: once Encode writes, the
// header block is gone and later changes are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent, logging is all that is left
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// Status returns the HTTP status and machine code for err.
func Status(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// WriteError maps a domain error to HTTP and sends it. It is the only
// place in the service where errors become status codes.
//
// errors.Is walks the wrap chain, so a service error such as
//
//	fmt.Errorf("getting user 7: %w", apperror.NotFound("user", "7"))
//
// still maps to 404. Messages of unknown errors and store causes are never
// sent to the client; 5xx outcomes are logged with the cause instead.
func WriteError(w http.ResponseWriter, err error) {
	status, code := Status(err)

	msg := "An internal error occurred"
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		msg = appErr.Message
	}

	if status >= http.StatusInternalServerError {
		attrs := []any{slog.String("code", code), slog.String("error", err.Error())}
		if cause := apperror.CauseOf(err); cause != err {
			attrs = append(attrs, slog.String("cause", cause.Error()))
		}
		slog.Error("request failed", attrs...)
	}

	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// NotFound and MethodNotAllowed replace chi's plain-text defaults.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Route not found", Code: "not_found"})
}

func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed", Code: "method_not_allowed"})
}
