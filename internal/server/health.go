package server

import (
	"log/slog"
	"net/http"
)

var (
	okBody  = []byte("ok")
	plainCT = []string{"text/plain"}
)

// handleHealthz is a liveness check: the process is up and serving HTTP.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

type readiness struct {
	Status       string `json:"status"`
	LiveSessions int    `json:"live_sessions"`
	Queued       int    `json:"queued"`
}

// handleReadyz reports whether the store answers and summarizes load. The
// check error is logged, never returned.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	body := readiness{Status: "ready"}
	if s.deps.Live != nil {
		body.LiveSessions = len(s.deps.Live.List())
	}
	if s.deps.Shards != nil {
		for _, st := range s.deps.Shards() {
			body.Queued += st.Queued
		}
	}

	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "readiness check failed",
				slog.String("error", err.Error()),
			)
			body.Status = "not_ready"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}
