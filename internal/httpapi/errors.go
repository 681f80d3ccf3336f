package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"evopanel/internal/client"
	"evopanel/internal/panel"
	"evopanel/internal/recipe"
	"evopanel/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps service errors to response codes. Remote failures are
// checked before HTTPError: a 404 from the task service is a bad gateway
// here, not a missing panel resource.
func statusFor(err error) int {
	switch {
	case recipe.IsValidation(err), recipe.IsIndex(err):
		return http.StatusBadRequest
	case panel.IsJobNotFound(err):
		return http.StatusNotFound
	case panel.IsClosed(err):
		return http.StatusServiceUnavailable
	case client.IsRemote(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
