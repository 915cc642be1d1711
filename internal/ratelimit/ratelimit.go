// Package ratelimit limits new connections per peer IP with lazy-refill token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// Bucket is a token bucket with lazy refill (no background goroutine).
type Bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMinute, burst int64, now time.Time) *Bucket {
	return &Bucket{
		tokens:   float64(burst),
		max:      float64(burst),
		rate:     float64(perMinute) / 60.0,
		lastFill: now,
	}
}

// refill adds tokens based on elapsed time since last refill.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// tryConsume attempts to consume n tokens. Returns remaining and whether allowed.
func (b *Bucket) tryConsume(n float64, now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns seconds until n tokens are available.
func (b *Bucket) retryAfter(n float64) float64 {
	if b.tokens >= n {
		return 0
	}
	return (n - b.tokens) / b.rate
}

// Limiter is the bucket for a single peer.
type Limiter struct {
	mu       sync.Mutex
	bucket   *Bucket
	limit    int64
	lastUsed time.Time
}

// allow consumes one connection token.
func (l *Limiter) allow(now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUsed = now

	remaining, ok := l.bucket.tryConsume(1, now)
	if ok {
		return Result{Allowed: true, Limit: l.limit, Remaining: remaining}
	}
	return Result{
		Allowed:           false,
		Limit:             l.limit,
		RetryAfterSeconds: l.bucket.retryAfter(1),
	}
}

// Registry manages per-peer Limiters sharing one configured rate.
// A PerMinute of 0 disables limiting.
type Registry struct {
	perMinute int64
	burst     int64
	now       func() time.Time

	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates a registry allowing perMinute new connections per
// peer, with up to burst accepted back to back. burst <= 0 means perMinute.
func NewRegistry(perMinute, burst int64) *Registry {
	if burst <= 0 {
		burst = perMinute
	}
	return &Registry{
		perMinute: perMinute,
		burst:     burst,
		now:       time.Now,
		limiters:  make(map[string]*Limiter),
	}
}

// Enabled reports whether the registry limits anything.
func (r *Registry) Enabled() bool { return r != nil && r.perMinute > 0 }

// Allow consumes one connection token for ip.
func (r *Registry) Allow(ip string) Result {
	if !r.Enabled() {
		return Result{Allowed: true}
	}
	now := r.now()
	return r.getOrCreate(ip, now).allow(now)
}

func (r *Registry) getOrCreate(ip string, now time.Time) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[ip]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[ip]; ok {
		return l
	}
	l = &Limiter{
		bucket:   newBucket(r.perMinute, r.burst, now),
		limit:    r.perMinute,
		lastUsed: now,
	}
	r.limiters[ip] = l
	return l
}

// Len returns the number of tracked peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}
