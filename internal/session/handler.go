// Package session implements the capture line protocol on top of pooled
// sockets. A Handler produces the callbacks that sockthread workers run
// against every socket in rotation.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	capture "github.com/eugener/capture/internal"
	"github.com/eugener/capture/internal/socket"
	"github.com/eugener/capture/internal/sockthread"
	"github.com/eugener/capture/internal/telemetry"
)

const (
	defaultPollTimeout = 50 * time.Millisecond
	defaultMaxInvalid  = 10
)

// Recorder receives the summary of every closed session.
type Recorder interface {
	Record(capture.SessionRecord)
}

// Config tunes session handling. Zero values select defaults; a zero
// IdleTimeout disables idle eviction.
type Config struct {
	PollTimeout time.Duration
	IdleTimeout time.Duration
	MaxInvalid  int
}

// Deps holds the optional collaborators of a Handler.
type Deps struct {
	Recorder Recorder           // nil drops summaries
	Metrics  *telemetry.Metrics // nil disables metrics
	Tracer   trace.Tracer       // nil uses the global provider
	Registry *Registry          // nil creates a private registry
}

// Handler owns the protocol and the lifecycle of sessions in rotation.
type Handler struct {
	cfg      Config
	recorder Recorder
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	live     *Registry
	now      func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg Config, deps Deps) *Handler {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.MaxInvalid <= 0 {
		cfg.MaxInvalid = defaultMaxInvalid
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer(telemetry.TracerName)
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	return &Handler{
		cfg:      cfg,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		live:     deps.Registry,
		now:      time.Now,
	}
}

// Registry returns the live-session registry.
func (h *Handler) Registry() *Registry { return h.live }

// Open registers s as live on shard. Call before the first Push.
func (h *Handler) Open(s *socket.Socket, shard int) {
	e := &entry{
		sock:  s,
		shard: shard,
		span:  telemetry.StartSessionSpan(h.tracer, s.ID(), s.Peer(), shard),
	}
	h.live.add(e)
	if h.metrics != nil {
		h.metrics.ActiveSessions.Inc()
	}
	slog.LogAttrs(context.Background(), slog.LevelInfo, "session opened",
		slog.String("session", s.ID()),
		slog.String("peer", s.Peer()),
		slog.Int("shard", shard),
	)
}

// Callback returns the per-shard worker callback. Each invocation polls
// the socket once, answers every complete frame and reports whether the
// socket stays in rotation. A socket is closed before false is returned.
func (h *Handler) Callback(shard int) sockthread.Callback[*socket.Socket] {
	label := strconv.Itoa(shard)
	return func(s *socket.Socket) (keep bool) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(context.Background(), slog.LevelError, "session callback panic",
					slog.String("session", s.ID()),
					slog.String("panic", fmt.Sprint(rec)),
				)
				h.closeSafe(s, capture.ReasonPanic)
				keep = false
			}
		}()

		keep = h.round(s, shard)

		if h.metrics != nil {
			h.metrics.CallbackRounds.WithLabelValues(label).Inc()
			if keep {
				h.metrics.Requeues.WithLabelValues(label).Inc()
			}
		}
		return keep
	}
}

// round runs one poll-and-answer pass over s.
func (h *Handler) round(s *socket.Socket, shard int) bool {
	e := h.live.get(s.ID())
	if e == nil {
		// Already closed and recorded, or never opened: drop it quietly.
		s.Close()
		return false
	}
	e.rounds.Add(1)

	frames, err := s.Poll(h.cfg.PollTimeout)
	for _, f := range frames {
		if reason, done := h.dispatch(s, e, f); done {
			h.Close(s, reason)
			return false
		}
	}
	h.flushBytes(s, e)

	if err != nil {
		h.Close(s, closeReason(err))
		return false
	}
	if len(frames) == 0 && h.cfg.IdleTimeout > 0 && s.Idle(h.now()) > h.cfg.IdleTimeout {
		h.Close(s, capture.ReasonIdleTimeout)
		return false
	}
	return true
}

// Close removes s from the live set, closes it and records its summary.
// Only the first Close of a registered session is recorded.
func (h *Handler) Close(s *socket.Socket, reason capture.CloseReason) {
	e := h.live.remove(s.ID())
	if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.LogAttrs(context.Background(), slog.LevelDebug, "socket close failed",
			slog.String("session", s.ID()),
			slog.String("error", err.Error()),
		)
	}
	if e == nil {
		return
	}
	h.flushBytes(s, e)

	st := s.Stats()
	closedAt := h.now()
	rec := capture.SessionRecord{
		ID:          s.ID(),
		Peer:        s.Peer(),
		ClientName:  s.Name(),
		Shard:       e.shard,
		Frames:      st.Frames,
		Invalid:     e.invalid,
		BytesIn:     st.BytesIn,
		BytesOut:    st.BytesOut,
		Rounds:      e.rounds.Load(),
		CloseReason: reason,
		OpenedAt:    st.OpenedAt,
		ClosedAt:    closedAt,
		DurationMs:  closedAt.Sub(st.OpenedAt).Milliseconds(),
	}

	telemetry.EndSessionSpan(e.span, string(reason), rec.Frames, rec.BytesIn, rec.BytesOut, failed(reason))
	if h.metrics != nil {
		h.metrics.ActiveSessions.Dec()
		h.metrics.Discards.WithLabelValues(string(reason)).Inc()
		h.metrics.SessionDuration.Observe(closedAt.Sub(st.OpenedAt).Seconds())
	}
	if h.recorder != nil {
		h.recorder.Record(rec)
	}

	slog.LogAttrs(context.Background(), slog.LevelInfo, "session closed",
		slog.String("session", rec.ID),
		slog.String("peer", rec.Peer),
		slog.String("reason", string(reason)),
		slog.Int64("frames", rec.Frames),
		slog.Int64("duration_ms", rec.DurationMs),
	)
}

// closeSafe is Close for the panic path, where a collaborator may panic again.
func (h *Handler) closeSafe(s *socket.Socket, reason capture.CloseReason) {
	defer func() {
		if rec := recover(); rec != nil {
			s.Close()
		}
	}()
	h.Close(s, reason)
}

// flushBytes reports byte counts accumulated since the previous flush.
func (h *Handler) flushBytes(s *socket.Socket, e *entry) {
	if h.metrics == nil {
		return
	}
	st := s.Stats()
	if d := st.BytesIn - e.seenIn; d > 0 {
		h.metrics.BytesIn.Add(float64(d))
	}
	if d := st.BytesOut - e.seenOut; d > 0 {
		h.metrics.BytesOut.Add(float64(d))
	}
	e.seenIn, e.seenOut = st.BytesIn, st.BytesOut
}

func closeReason(err error) capture.CloseReason {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, socket.ErrClosed):
		return capture.ReasonEOF
	case errors.Is(err, socket.ErrFrameTooLarge):
		return capture.ReasonFrameTooLarge
	default:
		return capture.ReasonReadError
	}
}

func failed(reason capture.CloseReason) bool {
	switch reason {
	case capture.ReasonEOF, capture.ReasonClientBye, capture.ReasonIdleTimeout, capture.ReasonShutdown:
		return false
	}
	return true
}
