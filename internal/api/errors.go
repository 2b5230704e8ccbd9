package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-integration/internal/adapter"
	"github.com/nerrad567/gray-logic-integration/internal/bridge"
	"github.com/nerrad567/gray-logic-integration/internal/hub"
	"github.com/nerrad567/gray-logic-integration/internal/platform"
	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeBusy           = "device_busy"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "device_unavailable"
	ErrCodeBadGateway     = "device_error"
	ErrCodeTimeout        = "device_timeout"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeNotEnabled     = "not_enabled"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// statusFor maps a platform error to an HTTP status and error code.
//
// Order matters: an exhausted bridge wraps both ErrConnection and
// ErrExhausted and must report 503, not 502.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, platform.ErrUnknownDevice), errors.Is(err, hub.ErrDeviceNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case platform.IsValidation(err):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, adapter.ErrBusy):
		return http.StatusConflict, ErrCodeBusy
	case errors.Is(err, bridge.ErrNotInitialized),
		errors.Is(err, bridge.ErrExhausted),
		errors.Is(err, bridge.ErrClosed),
		errors.Is(err, protocol.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, protocol.ErrAckTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, bridge.ErrConnection), protocol.IsConnectionError(err):
		return http.StatusBadGateway, ErrCodeBadGateway
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writePlatformError writes err with the status from statusFor.
func writePlatformError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err.Error())
}
