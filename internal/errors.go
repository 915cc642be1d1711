package capture

import "errors"

// Sentinel errors for the capture domain.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrRateLimited  = errors.New("rate limited")
	ErrShuttingDown = errors.New("shutting down")
)
