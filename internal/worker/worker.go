// Package worker provides the long-running tasks of the capture daemon:
// socket shards, the session recorder and periodic maintenance.
package worker

import "context"

// Worker is a long-running background task.
type Worker interface {
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}
