package httpapi

import (
	"encoding/json"
	"net/http"

	"visiond/internal/broker"
	"visiond/internal/engine"
	"visiond/internal/jobs"
	"visiond/internal/slot"
	"visiond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps well-known service errors to HTTP status codes.
func statusFor(err error) int {
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	switch {
	case jobs.IsDuplicateCorrelationID(err):
		return http.StatusConflict
	case broker.IsProviderRejected(err):
		return http.StatusUnprocessableEntity
	case broker.IsGenerationFailed(err):
		return http.StatusBadGateway
	case broker.IsTimeout(err):
		return http.StatusGatewayTimeout
	case slot.IsUnknownResource(err):
		return http.StatusNotFound
	case slot.IsResourceLoadFailed(err):
		return http.StatusServiceUnavailable
	case engine.IsRuntimeUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
