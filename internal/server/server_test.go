package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	capture "github.com/eugener/capture/internal"
	"github.com/eugener/capture/internal/testutil"
)

func newTestHandler() http.Handler {
	return New(Deps{
		Auth:     testutil.FakeAuth{},
		Sessions: testutil.NewFakeStore(),
	})
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	live := fakeLive{sessions: []capture.LiveSession{{ID: "a"}, {ID: "b"}}}
	tests := []struct {
		name       string
		check      ReadyChecker
		wantCode   int
		wantStatus string
	}{
		{"no check", nil, http.StatusOK, "ready"},
		{"healthy store", func(context.Context) error { return nil }, http.StatusOK, "ready"},
		{"store down", func(context.Context) error { return errors.New("db down") }, http.StatusServiceUnavailable, "not_ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(Deps{
				Auth:       testutil.FakeAuth{},
				Sessions:   testutil.NewFakeStore(),
				Live:       live,
				Shards:     func() []capture.ShardStat { return []capture.ShardStat{{Queued: 1}, {Queued: 2}} },
				ReadyCheck: tt.check,
			})

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var got readiness
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.wantStatus || got.LiveSessions != 2 || got.Queued != 3 {
				t.Errorf("body = %+v", got)
			}
			if strings.Contains(rec.Body.String(), "db down") {
				t.Error("check error should not leak into the response")
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Errorf("request id = %q, want caller value echoed", got)
	}
}

func TestAdminNoAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		deps Deps
	}{
		{"rejecting authenticator", Deps{Auth: testutil.RejectAuth{}, Sessions: testutil.NewFakeStore()}},
		{"no authenticator", Deps{Sessions: testutil.NewFakeStore()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(tt.deps)
			req := httptest.NewRequest(http.MethodGet, "/admin/sessions", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

type panicStore struct{ *testutil.FakeStore }

func (panicStore) GetSession(context.Context, string) (*capture.SessionRecord, error) {
	panic("boom")
}

func TestRecovery(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.FakeAuth{}, Sessions: panicStore{testutil.NewFakeStore()}})

	req := httptest.NewRequest(http.MethodGet, "/admin/sessions/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{capture.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("session x: %w", capture.ErrNotFound), http.StatusNotFound},
		{capture.ErrBadRequest, http.StatusBadRequest},
		{capture.ErrRateLimited, http.StatusTooManyRequests},
		{capture.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
