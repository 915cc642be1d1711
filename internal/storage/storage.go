// Package storage defines persistence interfaces for the capture daemon.
package storage

import (
	"context"
	"time"

	capture "github.com/eugener/capture/internal"
)

// SessionStore manages captured session summaries.
type SessionStore interface {
	InsertSessions(ctx context.Context, records []capture.SessionRecord) error
	GetSession(ctx context.Context, id string) (*capture.SessionRecord, error)
	ListSessions(ctx context.Context, f capture.SessionFilter) ([]capture.SessionRecord, error)
	CountSessions(ctx context.Context, f capture.SessionFilter) (int, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store combines all storage interfaces.
type Store interface {
	SessionStore
	Ping(ctx context.Context) error
	Close() error
}
