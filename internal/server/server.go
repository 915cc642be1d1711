// Package server implements the admin HTTP API of the capture daemon.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	capture "github.com/eugener/capture/internal"
	"github.com/eugener/capture/internal/cache"
	"github.com/eugener/capture/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// SessionReader is the read side of session persistence.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*capture.SessionRecord, error)
	ListSessions(ctx context.Context, f capture.SessionFilter) ([]capture.SessionRecord, error)
	CountSessions(ctx context.Context, f capture.SessionFilter) (int, error)
}

// LiveSessions exposes sessions still in worker rotation.
type LiveSessions interface {
	List() []capture.LiveSession
	Get(id string) (capture.LiveSession, bool)
}

// ShardLister reports per-shard queue state.
type ShardLister func() []capture.ShardStat

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           capture.Authenticator
	Sessions       SessionReader
	Live           LiveSessions       // nil = empty live view
	Shards         ShardLister        // nil = no shards reported
	Cache          cache.Cache        // nil = no caching
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = /metrics not mounted
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.observe)

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Admin API (auth required)
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/live", s.handleListLive)
		r.Get("/live/{id}", s.handleGetLive)
		r.Get("/shards", s.handleListShards)
	})

	return r
}

type server struct {
	deps Deps
}
