package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// MediaType is the content type of every response body.
const MediaType = "application/json"

// ErrorResponse is the body of an error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a core.Error over HTTP.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a structured error response.
func WriteError(w http.ResponseWriter, status int, e *core.Error) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Details:   e.Details,
		RequestID: w.Header().Get("X-Request-Id"),
	}})
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case core.ErrCodeValidationError:
		return http.StatusBadRequest
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict, core.ErrCodeDuplicate:
		return http.StatusConflict
	case core.ErrCodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes err, unwrapping a core.Error when the chain carries one.
// Anything else is reported as an internal error without its text.
func HandleError(w http.ResponseWriter, err error) {
	var e *core.Error
	if errors.As(err, &e) {
		WriteError(w, StatusFor(e.Code), e)
		return
	}
	slog.Error("unhandled request error", "error", err)
	WriteError(w, http.StatusInternalServerError, &core.Error{
		Code:    "internal_error",
		Message: "Internal server error.",
	})
}
