// Package cache fronts session lookups with an in-memory cache.
package cache

import (
	"context"

	capture "github.com/eugener/capture/internal"
)

// Cache holds closed-session summaries by ID.
type Cache interface {
	// Get retrieves a cached session.
	Get(ctx context.Context, id string) (*capture.SessionRecord, bool)
	// Set stores a session under its ID.
	Set(ctx context.Context, rec *capture.SessionRecord)
	// Delete removes a cached session.
	Delete(ctx context.Context, id string)
	// Purge removes all cached sessions.
	Purge(ctx context.Context)
}
