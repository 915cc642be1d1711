package sockthread

import (
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// Callback decides the fate of a dequeued item.
// Returning true pushes the item back to the tail; false discards it.
type Callback[T any] func(item T) bool

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// Worker owns a FIFO queue and a single goroutine draining it.
// The zero value is an idle, unnamed worker ready for use; New only adds
// options. A Worker must not be copied after first use.
type Worker[T any] struct {
	name string

	mu    sync.Mutex // guards every field below
	cond  *sync.Cond   // lazily bound to mu
	queue *queue.Queue // lazily allocated
	stop  bool
	state state
	done  chan struct{} // closed when the current goroutine exits
}

// New creates an idle Worker. No goroutine runs until Start.
func New[T any](opts ...Option) *Worker[T] {
	o := options{name: "sockthread"}
	for _, opt := range opts {
		opt(&o)
	}

	w := &Worker[T]{name: o.name}
	w.mu.Lock()
	w.initLocked()
	w.mu.Unlock()
	return w
}

// initLocked allocates the queue and condition variable on first use.
func (w *Worker[T]) initLocked() {
	if w.queue == nil {
		w.queue = queue.New()
	}
	if w.cond == nil {
		w.cond = sync.NewCond(&w.mu)
	}
}

// Name returns the worker name.
func (w *Worker[T]) Name() string { return w.name }

// Push appends item to the tail of the queue and wakes the goroutine.
// Safe from any goroutine, including from inside the callback.
func (w *Worker[T]) Push(item T) {
	w.mu.Lock()
	w.initLocked()
	w.queue.Add(item)
	w.mu.Unlock()
	w.cond.Signal()
}

// Start spawns the draining goroutine with cb as the per-item predicate.
// It fails with ErrAlreadyRunning until a previous run has fully exited.
func (w *Worker[T]) Start(cb Callback[T]) error {
	if cb == nil {
		return ErrNilCallback
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != stateIdle {
		return ErrAlreadyRunning
	}
	w.initLocked()
	w.stop = false
	w.state = stateRunning
	w.done = make(chan struct{})

	go w.run(cb, w.done)

	slog.Debug("sockthread started", "worker", w.name, "queued", w.queue.Length())
	return nil
}

// Stop asks the goroutine to exit after its current item. It does not wait.
func (w *Worker[T]) Stop() {
	w.mu.Lock()
	w.initLocked()
	w.stop = true
	if w.state == stateRunning {
		w.state = stateStopping
	}
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Wait stops the worker and blocks until its goroutine has exited.
// Safe to call repeatedly and on a worker that was never started.
func (w *Worker[T]) Wait() {
	w.Stop()

	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	// nil until the first Start
	if done != nil {
		<-done
	}
}

// Running reports whether a goroutine is active (running or stopping).
func (w *Worker[T]) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != stateIdle
}

// Size returns the current queue length. The value is advisory while
// producers or the goroutine are active.
func (w *Worker[T]) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queue == nil {
		return 0
	}
	return w.queue.Length()
}

// Drain removes and returns every queued item in FIFO order.
// Items left queued by Stop resume on the next Start unless drained.
func (w *Worker[T]) Drain() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initLocked()

	out := make([]T, 0, w.queue.Length())
	for w.queue.Length() > 0 {
		item, _ := w.queue.Remove().(T)
		out = append(out, item)
	}
	return out
}

// run is the goroutine body: wait for work, dispatch one item, requeue or drop.
func (w *Worker[T]) run(cb Callback[T], done chan struct{}) {
	defer func() {
		w.mu.Lock()
		w.state = stateIdle
		w.mu.Unlock()
		close(done)
		slog.Debug("sockthread stopped", "worker", w.name)
	}()

	for {
		item, ok := w.next()
		if !ok {
			return
		}
		if cb(item) {
			w.Push(item)
		}
	}
}

// next blocks until an item is available or stop is set.
// The predicate is re-checked after every wake.
func (w *Worker[T]) next() (item T, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for !w.stop && w.queue.Length() == 0 {
		w.cond.Wait()
	}
	if w.stop {
		return item, false
	}
	item, _ = w.queue.Remove().(T)
	return item, true
}
