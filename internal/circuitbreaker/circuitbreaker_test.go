package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*Breaker, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(cfg)
	b.now = c.now
	return b, c
}

var errDisk = errors.New("disk I/O error")

func TestSlidingWindow_RecordAndErrorRate(t *testing.T) {
	t.Parallel()

	w := newSlidingWindow(60)
	now := time.Now()

	// 7 successes + 3 errors (weight 1.0) = 30% error rate.
	for range 7 {
		w.record(0, now)
	}
	for range 3 {
		w.record(1.0, now)
	}

	rate, samples := w.errorRate(now)
	if samples != 10 {
		t.Fatalf("samples = %d, want 10", samples)
	}
	if rate < 0.29 || rate > 0.31 {
		t.Fatalf("rate = %f, want ~0.30", rate)
	}
}

func TestSlidingWindow_Expiry(t *testing.T) {
	t.Parallel()

	w := newSlidingWindow(5)
	base := time.Now()
	w.record(1.0, base)

	rate, samples := w.errorRate(base.Add(6 * time.Second))
	if samples != 0 || rate != 0 {
		t.Fatalf("samples=%d rate=%f, want 0/0 (expired)", samples, rate)
	}
}

func TestSlidingWindow_InvalidSize(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, -1, 61, 1000} {
		if w := newSlidingWindow(n); w.size != 60 {
			t.Errorf("newSlidingWindow(%d).size = %d, want 60", n, w.size)
		}
	}
}

func TestBreaker_OpensOnThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(DefaultConfig())
	b.Record(nil)
	b.Record(errDisk)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed below min samples", b.State())
	}
	b.Record(errDisk)

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject")
	}
}

func TestBreaker_CanceledDoesNotTrip(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(DefaultConfig())
	for range 20 {
		b.Record(fmt.Errorf("flush: %w", context.Canceled))
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		trial error
		want  State
	}{
		{"success closes", nil, StateClosed},
		{"failure reopens", errDisk, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, c := newTestBreaker(DefaultConfig())
			for range 3 {
				b.Record(errDisk)
			}
			c.advance(DefaultConfig().OpenTimeout)

			if !b.Allow() {
				t.Fatal("first call after open timeout should be the trial write")
			}
			if b.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half_open", b.State())
			}
			if b.Allow() {
				t.Fatal("second concurrent trial write should be rejected")
			}

			b.Record(tt.trial)
			if b.State() != tt.want {
				t.Fatalf("state = %v, want %v", b.State(), tt.want)
			}
		})
	}
}

func TestBreaker_WindowForgetsOldFailures(t *testing.T) {
	t.Parallel()

	b, c := newTestBreaker(DefaultConfig())
	b.Record(errDisk)
	b.Record(errDisk)
	c.advance(2 * time.Minute)
	b.Record(errDisk)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, failures outside the window should not count", b.State())
	}
}

func TestBreaker_Nil(t *testing.T) {
	t.Parallel()

	var b *Breaker
	if !b.Allow() {
		t.Error("nil breaker should allow")
	}
	b.Record(errDisk)
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	b := NewBreaker(DefaultConfig())
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			for range 100 {
				if b.Allow() {
					if i%2 == 0 {
						b.Record(nil)
					} else {
						b.Record(errDisk)
					}
				}
				_ = b.State()
			}
		})
	}
	wg.Wait()
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want float64
	}{
		{nil, 0},
		{context.Canceled, 0},
		{fmt.Errorf("insert: %w", context.DeadlineExceeded), 1.5},
		{errDisk, 1.0},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
