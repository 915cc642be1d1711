package worker

import (
	"context"
	"log/slog"
	"time"
)

// DNSCache is the refreshable resolver cache. *dnscache.Resolver satisfies it.
type DNSCache interface {
	Refresh(clearUnused bool)
}

// DNSRefresher periodically refreshes cached reverse lookups and drops
// entries nobody asked for since the previous refresh.
type DNSRefresher struct {
	cache DNSCache
	every time.Duration
}

// NewDNSRefresher creates a DNSRefresher.
func NewDNSRefresher(cache DNSCache, every time.Duration) *DNSRefresher {
	return &DNSRefresher{cache: cache, every: every}
}

// Name returns the worker identifier.
func (w *DNSRefresher) Name() string { return "dns_refresh" }

// Run refreshes the cache on a periodic schedule until ctx is cancelled.
func (w *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.cache.Refresh(true)
		}
	}
}

// SessionPruner deletes persisted sessions.
type SessionPruner interface {
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StaleEvicter forgets per-peer state unused since cutoff.
type StaleEvicter interface {
	EvictStale(cutoff time.Time) int
}

// JanitorConfig tunes the Janitor. A zero Retention keeps sessions forever.
type JanitorConfig struct {
	Interval   time.Duration
	Retention  time.Duration
	LimiterTTL time.Duration
}

// Janitor prunes expired session rows and stale rate limiter entries.
type Janitor struct {
	cfg     JanitorConfig
	store   SessionPruner
	limiter StaleEvicter
	now     func() time.Time
}

// NewJanitor creates a Janitor. limiter may be nil.
func NewJanitor(cfg JanitorConfig, store SessionPruner, limiter StaleEvicter) *Janitor {
	return &Janitor{cfg: cfg, store: store, limiter: limiter, now: time.Now}
}

// Name returns the worker identifier.
func (w *Janitor) Name() string { return "janitor" }

// Run sweeps on a periodic schedule until ctx is cancelled.
func (w *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Janitor) sweep(ctx context.Context) {
	now := w.now()

	if w.cfg.Retention > 0 {
		n, err := w.store.DeleteSessionsBefore(ctx, now.Add(-w.cfg.Retention))
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "session prune failed",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			slog.Info("sessions pruned", "count", n)
		}
	}

	if w.limiter != nil && w.cfg.LimiterTTL > 0 {
		if n := w.limiter.EvictStale(now.Add(-w.cfg.LimiterTTL)); n > 0 {
			slog.Debug("rate limiters evicted", "count", n)
		}
	}
}
