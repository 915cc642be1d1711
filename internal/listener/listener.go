// Package listener accepts TCP connections and hands each one to a shard.
package listener

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eugener/capture/internal/ratelimit"
	"github.com/eugener/capture/internal/socket"
	"github.com/eugener/capture/internal/telemetry"
)

// Shard selection strategies.
const (
	BalanceRoundRobin  = "round_robin"
	BalanceLeastLoaded = "least_loaded"
	BalanceHash        = "hash"
)

const maxAcceptBackoff = time.Second

// Shard receives accepted sockets. Size is advisory.
type Shard interface {
	Push(*socket.Socket)
	Size() int
}

// Opener registers a socket as a live session before it is pushed.
type Opener interface {
	Open(s *socket.Socket, shard int)
}

// Config configures a Listener.
type Config struct {
	Addr      string
	ReusePort bool
	KeepAlive time.Duration // 0 uses the Go default, negative disables
	Balance   string
	Socket    socket.Options
}

// Listener is the accept loop. It implements worker.Worker.
type Listener struct {
	cfg     Config
	shards  []Shard
	opener  Opener
	limiter *ratelimit.Registry
	metrics *telemetry.Metrics

	rr       atomic.Uint64
	addr     atomic.Pointer[net.TCPAddr]
	ready    chan struct{}
	readyOne sync.Once
}

// New creates a Listener over shards. limiter and metrics may be nil.
func New(cfg Config, shards []Shard, opener Opener, limiter *ratelimit.Registry, metrics *telemetry.Metrics) (*Listener, error) {
	if len(shards) == 0 {
		return nil, errors.New("listener: no shards")
	}
	if opener == nil {
		return nil, errors.New("listener: nil opener")
	}
	switch cfg.Balance {
	case "":
		cfg.Balance = BalanceRoundRobin
	case BalanceRoundRobin, BalanceLeastLoaded, BalanceHash:
	default:
		return nil, fmt.Errorf("listener: unknown balance strategy %q", cfg.Balance)
	}
	return &Listener{
		cfg:     cfg,
		shards:  shards,
		opener:  opener,
		limiter: limiter,
		metrics: metrics,
		ready:   make(chan struct{}),
	}, nil
}

// Addr returns the bound address, or nil before Run has bound.
func (l *Listener) Addr() net.Addr {
	if a := l.addr.Load(); a != nil {
		return a
	}
	return nil
}

// Ready is closed once the listener is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Name identifies the listener in runner logs.
func (l *Listener) Name() string { return "listener" }

// Run binds and accepts until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	lc := net.ListenConfig{
		Control:   control(l.cfg.ReusePort),
		KeepAlive: l.cfg.KeepAlive,
	}
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.Addr, err)
	}
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		l.addr.Store(a)
	}
	l.readyOne.Do(func() { close(l.ready) })
	slog.LogAttrs(ctx, slog.LevelInfo, "listener started",
		slog.String("addr", ln.Addr().String()),
		slog.Int("shards", len(l.shards)),
		slog.String("balance", l.cfg.Balance),
	)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				slog.LogAttrs(context.Background(), slog.LevelInfo, "listener stopped")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// Transient accept failures (EMFILE and friends) back off like net/http.
			backoff = min(max(2*backoff, 5*time.Millisecond), maxAcceptBackoff)
			slog.LogAttrs(ctx, slog.LevelWarn, "accept failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0
		l.handle(ctx, conn)
	}
}

// handle applies the per-peer limit and pushes the new session to a shard.
func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	s := socket.New(conn, l.cfg.Socket)
	ip := s.RemoteIP()

	if res := l.limiter.Allow(ip); !res.Allowed {
		conn.Close()
		if l.metrics != nil {
			l.metrics.ConnsRejected.WithLabelValues("rate_limited").Inc()
		}
		slog.LogAttrs(ctx, slog.LevelDebug, "connection rate limited",
			slog.String("peer", s.Peer()),
			slog.Float64("retry_after_s", res.RetryAfterSeconds),
		)
		return
	}

	i := l.pick(ip)
	l.opener.Open(s, i)
	l.shards[i].Push(s)
	if l.metrics != nil {
		l.metrics.ConnsAccepted.Inc()
	}
}

// pick returns the shard index for a peer.
func (l *Listener) pick(ip string) int {
	n := len(l.shards)
	switch l.cfg.Balance {
	case BalanceHash:
		h := fnv.New32a()
		h.Write([]byte(ip))
		return int(h.Sum32() % uint32(n))
	case BalanceLeastLoaded:
		// scan from a rotating start so ties spread out
		start := int(l.rr.Add(1) % uint64(n))
		best, bestSize := start, l.shards[start].Size()
		for k := 1; k < n && bestSize > 0; k++ {
			i := (start + k) % n
			if sz := l.shards[i].Size(); sz < bestSize {
				best, bestSize = i, sz
			}
		}
		return best
	default:
		return int((l.rr.Add(1) - 1) % uint64(n))
	}
}
