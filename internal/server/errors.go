package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	capture "github.com/eugener/capture/internal"
)

// apiError is the body of every non-2xx admin response.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	return e
}

// errorStatus maps domain sentinels to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, capture.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, capture.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is assigned straight into the header map, skipping Header.Set.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
