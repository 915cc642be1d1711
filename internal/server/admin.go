package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	capture "github.com/eugener/capture/internal"
)

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case errors.Is(err, capture.ErrNotFound):
		writeJSON(w, status, errorResponse("not found"))
	case errors.Is(err, capture.ErrBadRequest):
		writeJSON(w, status, errorResponse(err.Error()))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
	}
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseSinceUntil validates optional since/until RFC3339 query params.
// Writes 400 and returns false on invalid format.
func parseSinceUntil(w http.ResponseWriter, r *http.Request) (since, until string, ok bool) {
	q := r.URL.Query()
	since, until = q.Get("since"), q.Get("until")
	if since != "" {
		if _, err := time.Parse(time.RFC3339, since); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid since format, use RFC3339"))
			return "", "", false
		}
	}
	if until != "" {
		if _, err := time.Parse(time.RFC3339, until); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid until format, use RFC3339"))
			return "", "", false
		}
	}
	return since, until, true
}

// --- Sessions ---

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	offset, limit := parsePagination(r)
	q := r.URL.Query()
	f := capture.SessionFilter{
		Peer:       q.Get("peer"),
		ClientName: q.Get("client_name"),
		Reason:     q.Get("reason"),
		Since:      since,
		Until:      until,
		Offset:     offset,
		Limit:      limit,
	}

	records, err := s.deps.Sessions.ListSessions(r.Context(), f)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	total, err := s.deps.Sessions.CountSessions(r.Context(), f)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if records == nil {
		records = []capture.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       records,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

// handleGetSession serves closed-session summaries. Records are immutable
// once written so cached entries never go stale before retention removes them.
func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Cache != nil {
		if rec, ok := s.deps.Cache.Get(r.Context(), id); ok {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	rec, err := s.deps.Sessions.GetSession(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(r.Context(), rec)
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Live view ---

func (s *server) handleListLive(w http.ResponseWriter, _ *http.Request) {
	live := []capture.LiveSession{}
	if s.deps.Live != nil {
		if l := s.deps.Live.List(); l != nil {
			live = l
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": live})
}

func (s *server) handleGetLive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Live != nil {
		if ls, ok := s.deps.Live.Get(chi.URLParam(r, "id")); ok {
			writeJSON(w, http.StatusOK, ls)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorResponse("not found"))
}

func (s *server) handleListShards(w http.ResponseWriter, _ *http.Request) {
	stats := []capture.ShardStat{}
	if s.deps.Shards != nil {
		if st := s.deps.Shards(); st != nil {
			stats = st
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": stats})
}
