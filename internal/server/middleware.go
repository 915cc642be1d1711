package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	capture "github.com/eugener/capture/internal"
)

// requestIDHeader is already in canonical form so header maps can be
// indexed directly.
const requestIDHeader = "X-Request-Id"

// statusCodes caches the decimal form of every status code for metric labels.
var statusCodes = func() (s [600]string) {
	for i := range s {
		s[i] = strconv.Itoa(i)
	}
	return s
}()

// recorders are reused across requests; fields are reset on Get and the
// wrapped writer cleared on Put.
var recorders = sync.Pool{
	New: func() any { return &statusRecorder{} },
}

// recovery turns a handler panic into a 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "admin handler panic",
					slog.Any("panic", v),
					slog.String("path", r.URL.Path),
					slog.String("request_id", capture.RequestIDFromContext(r.Context())),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID propagates the caller's X-Request-Id or mints a UUIDv7.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if v := r.Header[requestIDHeader]; len(v) > 0 && v[0] != "" {
			id = v[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		next.ServeHTTP(w, r.WithContext(capture.ContextWithRequestID(r.Context(), id)))
	})
}

// observe logs every request and, when metrics are configured, records its
// count and latency labelled by route pattern. The status is captured once
// for both.
func (s *server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := recorders.Get().(*statusRecorder)
		rec.ResponseWriter, rec.status, rec.written = w, http.StatusOK, false

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		status := rec.status
		rec.ResponseWriter = nil
		recorders.Put(rec)

		route := routePattern(r)
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("request_id", capture.RequestIDFromContext(r.Context())),
		}
		if id := capture.IdentityFromContext(r.Context()); id != nil {
			attrs = append(attrs, slog.String("subject", id.Subject))
		}
		slog.LogAttrs(r.Context(), slog.LevelInfo, "admin request", attrs...)

		if m := s.deps.Metrics; m != nil {
			m.RequestsTotal.WithLabelValues(r.Method, route, statusCodes[status%600]).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}
	})
}

// authenticate resolves the caller and stores the Identity in the request
// meta created by requestID. Without an authenticator every call is refused.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Auth == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse(capture.ErrUnauthorized.Error()))
			return
		}
		id, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeJSON(w, errorStatus(err), errorResponse(err.Error()))
			return
		}
		if ctx := capture.ContextWithIdentity(r.Context(), id); ctx != r.Context() {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// routePattern keeps metric cardinality bounded: chi patterns for matched
// routes, the raw path otherwise.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusRecorder remembers the first status written through it.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.status, s.written = code, true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.written = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
