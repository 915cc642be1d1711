package worker

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	capture "github.com/eugener/capture/internal"
	"github.com/eugener/capture/internal/circuitbreaker"
	"github.com/eugener/capture/internal/telemetry"
)

const (
	recordChanSize   = 1000
	recordBatchSize  = 100
	recordFlushEvery = 5 * time.Second
	recordDrainTime  = 30 * time.Second
	lookupTimeout    = 500 * time.Millisecond
)

// SessionWriter is the persistence interface consumed by SessionRecorder.
type SessionWriter interface {
	InsertSessions(ctx context.Context, records []capture.SessionRecord) error
}

// PeerResolver resolves peer IPs to host names. *dnscache.Resolver satisfies it.
type PeerResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// SessionRecorder buffers session summaries and batch-flushes them to the store.
// Records are dropped if the channel is full (back-pressure on slow DB) or
// while the store breaker is open.
type SessionRecorder struct {
	ch       chan capture.SessionRecord
	store    SessionWriter
	resolver PeerResolver
	breaker  *circuitbreaker.Breaker
	metrics  *telemetry.Metrics
	every    time.Duration
}

// NewSessionRecorder creates a SessionRecorder backed by store. resolver and
// metrics may be nil.
func NewSessionRecorder(store SessionWriter, resolver PeerResolver, metrics *telemetry.Metrics) *SessionRecorder {
	return &SessionRecorder{
		ch:       make(chan capture.SessionRecord, recordChanSize),
		store:    store,
		resolver: resolver,
		breaker:  circuitbreaker.NewBreaker(circuitbreaker.DefaultConfig()),
		metrics:  metrics,
		every:    recordFlushEvery,
	}
}

// Name returns the worker identifier.
func (u *SessionRecorder) Name() string { return "session_recorder" }

// Record enqueues a session summary. It never blocks; drops on full channel.
func (u *SessionRecorder) Record(r capture.SessionRecord) {
	select {
	case u.ch <- r:
	default:
		if u.metrics != nil {
			u.metrics.RecorderDrops.Inc()
		}
		slog.Warn("session record dropped, channel full", "session", r.ID)
	}
}

// Run processes records until ctx is cancelled, then drains remaining records.
func (u *SessionRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.every)
	defer ticker.Stop()

	buf := make([]capture.SessionRecord, 0, recordBatchSize)

	for {
		select {
		case r := <-u.ch:
			buf = append(buf, r)
			if len(buf) >= recordBatchSize {
				u.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				u.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			u.drain(buf)
			return nil
		}
	}
}

func (u *SessionRecorder) drain(buf []capture.SessionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), recordDrainTime)
	defer cancel()

	for {
		select {
		case r := <-u.ch:
			buf = append(buf, r)
			if len(buf) >= recordBatchSize {
				u.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				u.flush(ctx, buf)
			}
			return
		}
	}
}

func (u *SessionRecorder) flush(ctx context.Context, buf []capture.SessionRecord) {
	if !u.breaker.Allow() {
		if u.metrics != nil {
			u.metrics.RecorderDrops.Add(float64(len(buf)))
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "session store breaker open, batch dropped",
			slog.Int("count", len(buf)),
		)
		return
	}

	// Copy to avoid aliasing the caller's slice.
	batch := make([]capture.SessionRecord, len(buf))
	copy(batch, buf)

	// Reverse lookups happen here, off the shard hot path.
	if u.resolver != nil {
		hosts := make(map[string]string, len(batch))
		for i := range batch {
			if batch[i].PeerHost != "" {
				continue
			}
			ip := peerIP(batch[i].Peer)
			host, ok := hosts[ip]
			if !ok {
				host = u.lookup(ctx, ip)
				hosts[ip] = host
			}
			batch[i].PeerHost = host
		}
	}

	err := u.store.InsertSessions(ctx, batch)
	u.breaker.Record(err)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "session flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}

func (u *SessionRecorder) lookup(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	names, err := u.resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func peerIP(peer string) string {
	if host, _, err := net.SplitHostPort(peer); err == nil {
		return host
	}
	return peer
}
