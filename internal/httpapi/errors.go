package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"gemmad/internal/acquisition"
	"gemmad/internal/engine"
	"gemmad/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case acquisition.IsNotInitialized(err),
		acquisition.IsServiceUnavailable(err),
		engine.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case acquisition.IsTooBusy(err):
		return http.StatusTooManyRequests
	case acquisition.IsDownloadFailed(err), acquisition.IsLocationUnresolved(err):
		return http.StatusBadGateway
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
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("encode response")
	}
}
