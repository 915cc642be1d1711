package circuitbreaker

import (
	"context"
	"errors"
	"os"
)

// ClassifyError returns the failure weight of a store error.
//
// Weights:
//   - nil, context.Canceled -> 0.0 (shutdown is not a store fault)
//   - deadline exceeded -> 1.5 (a stalled database is the worst case)
//   - anything else -> 1.0
func ClassifyError(err error) float64 {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return 1.5
	default:
		return 1.0
	}
}
