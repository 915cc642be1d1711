// Package circuitbreaker guards the session store write path. After a run of
// failed flushes the breaker opens and batches are shed without touching the
// database until a single trial write succeeds.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed lets every write through.
	StateClosed State = iota
	// StateOpen sheds every write.
	StateOpen
	// StateHalfOpen lets a single trial write through.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	ErrorThreshold float64       // weighted failure rate to trip (e.g. 0.50)
	MinSamples     int           // minimum writes before the breaker can open
	WindowSeconds  int           // sliding window duration in seconds, max 60
	OpenTimeout    time.Duration // time in OPEN before a trial write is allowed
}

// DefaultConfig suits a recorder flushing every few seconds: three failed
// flushes inside a minute trip the breaker.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.50,
		MinSamples:     3,
		WindowSeconds:  60,
		OpenTimeout:    15 * time.Second,
	}
}

// bucket holds failure and attempt counts for a 1-second slot.
type bucket struct {
	errors float64
	total  int
}

// slidingWindow is a fixed-size ring of 1-second buckets.
type slidingWindow struct {
	buckets  [60]bucket
	size     int   // active buckets (== window seconds)
	head     int   // index of current bucket
	headTime int64 // unix seconds of head bucket
}

func newSlidingWindow(windowSeconds int) slidingWindow {
	if windowSeconds <= 0 || windowSeconds > 60 {
		windowSeconds = 60
	}
	return slidingWindow{size: windowSeconds}
}

// advance moves the head to nowSec, clearing buckets that fell out of the window.
func (w *slidingWindow) advance(nowSec int64) {
	if w.headTime == 0 {
		w.headTime = nowSec
		return
	}
	gap := nowSec - w.headTime
	if gap <= 0 {
		return
	}
	n := min(int(gap), w.size)
	for i := range n {
		w.buckets[(w.head+1+i)%w.size] = bucket{}
	}
	w.head = (w.head + int(gap)) % w.size
	w.headTime = nowSec
}

func (w *slidingWindow) record(weight float64, now time.Time) {
	w.advance(now.Unix())
	w.buckets[w.head].total++
	w.buckets[w.head].errors += weight
}

// errorRate returns the weighted failure rate and sample count across the window.
func (w *slidingWindow) errorRate(now time.Time) (rate float64, samples int) {
	w.advance(now.Unix())
	var errs float64
	for i := range w.size {
		errs += w.buckets[i].errors
		samples += w.buckets[i].total
	}
	if samples == 0 {
		return 0, 0
	}
	return errs / float64(samples), samples
}

func (w *slidingWindow) reset() {
	*w = slidingWindow{size: w.size}
}

// Breaker is a closed/open/half-open state machine over a sliding window.
type Breaker struct {
	mu          sync.Mutex
	state       State
	window      slidingWindow
	openedAt    time.Time
	trialing    bool // a half-open trial write is in flight
	threshold   float64
	minSamples  int
	openTimeout time.Duration
	now         func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		state:       StateClosed,
		window:      newSlidingWindow(cfg.WindowSeconds),
		threshold:   cfg.ErrorThreshold,
		minSamples:  cfg.MinSamples,
		openTimeout: cfg.OpenTimeout,
		now:         time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a write may proceed. A nil breaker allows everything.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.openTimeout {
			return false
		}
		// This caller makes the trial write.
		b.state = StateHalfOpen
		b.trialing = true
		return true
	case StateHalfOpen:
		if b.trialing {
			return false
		}
		b.trialing = true
		return true
	}
	return false
}

// Record feeds the outcome of an allowed write back into the breaker.
func (b *Breaker) Record(err error) {
	if b == nil {
		return
	}
	if w := ClassifyError(err); w > 0 {
		b.recordError(w)
		return
	}
	b.recordSuccess()
}

func (b *Breaker) recordSuccess() {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(0, now)

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.trialing = false
		b.window.reset()
	}
}

func (b *Breaker) recordError(weight float64) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.record(weight, now)

	switch b.state {
	case StateClosed:
		rate, samples := b.window.errorRate(now)
		if samples >= b.minSamples && rate >= b.threshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.trialing = false
	}
}
