package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	capture "github.com/eugener/capture/internal"
	"github.com/eugener/capture/internal/socket"
	"github.com/eugener/capture/internal/sockthread"
	"github.com/eugener/capture/internal/telemetry"
)

const depthSampleEvery = time.Second

// SessionHandler supplies the shard callback and closes leftover sockets.
type SessionHandler interface {
	Callback(shard int) sockthread.Callback[*socket.Socket]
	Close(s *socket.Socket, reason capture.CloseReason)
}

// Shard runs one sockthread worker for the lifetime of a context.
type Shard struct {
	index   int
	w       *sockthread.Worker[*socket.Socket]
	handler SessionHandler
	metrics *telemetry.Metrics
}

// NewShard creates shard number index. metrics may be nil.
func NewShard(index int, handler SessionHandler, metrics *telemetry.Metrics) *Shard {
	return &Shard{
		index:   index,
		w:       sockthread.New[*socket.Socket](sockthread.WithName("shard-" + strconv.Itoa(index))),
		handler: handler,
		metrics: metrics,
	}
}

// Name returns the worker identifier.
func (s *Shard) Name() string { return s.w.Name() }

// Index returns the shard number.
func (s *Shard) Index() int { return s.index }

// Push hands a socket to the shard.
func (s *Shard) Push(sock *socket.Socket) { s.w.Push(sock) }

// Size returns the advisory queue depth.
func (s *Shard) Size() int { return s.w.Size() }

// Stat returns a snapshot for the admin API.
func (s *Shard) Stat() capture.ShardStat {
	return capture.ShardStat{
		Shard:   s.index,
		Name:    s.w.Name(),
		Queued:  s.w.Size(),
		Running: s.w.Running(),
	}
}

// Run starts the worker and blocks until ctx is cancelled. On return the
// worker has stopped and every socket still queued has been closed.
func (s *Shard) Run(ctx context.Context) error {
	if err := s.w.Start(s.handler.Callback(s.index)); err != nil {
		return fmt.Errorf("%s: %w", s.w.Name(), err)
	}

	var depth interface{ Set(float64) }
	if s.metrics != nil {
		depth = s.metrics.ShardQueueDepth.WithLabelValues(strconv.Itoa(s.index))
	}

	ticker := time.NewTicker(depthSampleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if depth != nil {
				depth.Set(float64(s.w.Size()))
			}
		case <-ctx.Done():
			s.w.Wait()
			left := s.w.Drain()
			for _, sock := range left {
				s.handler.Close(sock, capture.ReasonShutdown)
			}
			if depth != nil {
				depth.Set(0)
			}
			slog.LogAttrs(context.Background(), slog.LevelInfo, "shard stopped",
				slog.String("shard", s.w.Name()),
				slog.Int("closed", len(left)),
			)
			return nil
		}
	}
}
