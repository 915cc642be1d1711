package sockthread

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// waitClosed fails the test if ch is not closed within testTimeout.
func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timeout waiting for %s", what)
	}
}

// waitDone runs w.Wait in a goroutine and fails the test if it hangs.
func waitDone(t *testing.T, w *Worker[string]) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	waitClosed(t, done, "worker to stop")
}

func collect(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	res := make([]string, 0, n)
	for len(res) < n {
		select {
		case v := <-ch:
			res = append(res, v)
		case <-time.After(testTimeout):
			t.Fatalf("timeout after %d of %d items: %v", len(res), n, res)
		}
	}
	return res
}

func TestWorker_FIFOSingleProducer(t *testing.T) {
	t.Parallel()

	w := New[string]()
	w.Push("A")
	w.Push("B")
	w.Push("C")

	seen := make(chan string, 10)
	require.NoError(t, w.Start(func(v string) bool {
		seen <- v
		return false
	}))

	assert.Equal(t, []string{"A", "B", "C"}, collect(t, seen, 3))
	waitDone(t, w)

	assert.Empty(t, seen, "each item must be processed exactly once")
	assert.Equal(t, 0, w.Size())
}

func TestWorker_RequeueUntilFalse(t *testing.T) {
	t.Parallel()

	const k = 5
	var calls atomic.Int32
	finished := make(chan struct{})

	w := New[string]()
	require.NoError(t, w.Start(func(string) bool {
		n := calls.Add(1)
		if n <= k {
			return true
		}
		close(finished)
		return false
	}))

	w.Push("sock")
	waitClosed(t, finished, "item discard")
	waitDone(t, w)

	assert.Equal(t, int32(k+1), calls.Load())
	assert.Equal(t, 0, w.Size())
}

func TestWorker_RequeueGoesBehindNewItems(t *testing.T) {
	t.Parallel()

	w := New[string]()
	seen := make(chan string, 10)
	gate := make(chan struct{})
	var firstA atomic.Bool

	require.NoError(t, w.Start(func(v string) bool {
		seen <- v
		if v == "A" && firstA.CompareAndSwap(false, true) {
			<-gate // B is pushed while A is in flight
			return true
		}
		return false
	}))

	w.Push("A")
	require.Equal(t, "A", collect(t, seen, 1)[0])
	w.Push("B")
	close(gate)

	assert.Equal(t, []string{"B", "A"}, collect(t, seen, 2))
	waitDone(t, w)
}

func TestWorker_ConcurrentPushNoLoss(t *testing.T) {
	t.Parallel()

	const producers = 200
	var mu sync.Mutex
	counts := make(map[string]int)
	all := make(chan struct{})
	var total atomic.Int32

	w := New[string]()
	require.NoError(t, w.Start(func(v string) bool {
		mu.Lock()
		counts[v]++
		mu.Unlock()
		if total.Add(1) == producers {
			close(all)
		}
		return false
	}))

	var wg sync.WaitGroup
	for i := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Push(fmt.Sprintf("item-%d", i))
		}()
	}
	wg.Wait()

	waitClosed(t, all, "all items")
	waitDone(t, w)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, counts, producers)
	for k, v := range counts {
		assert.Equal(t, 1, v, "item %s processed %d times", k, v)
	}
}

func TestWorker_StopWhenIdle(t *testing.T) {
	t.Parallel()

	t.Run("never started", func(t *testing.T) {
		w := New[string]()
		w.Stop()
		waitDone(t, w)
		waitDone(t, w)
		assert.False(t, w.Running())
	})

	t.Run("started with empty queue", func(t *testing.T) {
		w := New[string]()
		require.NoError(t, w.Start(func(string) bool { return false }))
		assert.True(t, w.Running())
		w.Stop()
		w.Stop()
		waitDone(t, w)
		assert.False(t, w.Running())
	})
}

func TestWorker_StopDoesNotInterruptCallback(t *testing.T) {
	t.Parallel()

	w := New[string]()
	entered := make(chan struct{})
	release := make(chan struct{})
	var completed atomic.Bool

	require.NoError(t, w.Start(func(string) bool {
		close(entered)
		<-release
		completed.Store(true)
		return true
	}))

	w.Push("busy")
	waitClosed(t, entered, "callback entry")
	w.Stop()
	close(release)
	waitDone(t, w)

	assert.True(t, completed.Load())
	// a kept item survives the stop instead of being dropped
	assert.Equal(t, 1, w.Size())
	assert.Equal(t, []string{"busy"}, w.Drain())
}

func TestWorker_RestartAfterDrain(t *testing.T) {
	t.Parallel()

	w := New[string]()
	first := make(chan string, 10)
	require.NoError(t, w.Start(func(v string) bool {
		first <- v
		return false
	}))
	w.Push("A")
	w.Push("B")
	collect(t, first, 2)
	waitDone(t, w)
	require.Equal(t, 0, w.Size())

	second := make(chan string, 10)
	require.NoError(t, w.Start(func(v string) bool {
		second <- v
		return false
	}))
	w.Push("C")

	assert.Equal(t, []string{"C"}, collect(t, second, 1))
	waitDone(t, w)
	assert.Empty(t, first)
}

func TestWorker_RestartResumesLeftovers(t *testing.T) {
	t.Parallel()

	w := New[string]()
	entered := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, w.Start(func(string) bool {
		close(entered)
		<-release
		return false
	}))
	w.Push("A")
	waitClosed(t, entered, "callback entry")
	w.Push("B")
	w.Push("C")
	w.Stop()
	close(release)
	waitDone(t, w)
	require.Equal(t, 2, w.Size())

	seen := make(chan string, 10)
	require.NoError(t, w.Start(func(v string) bool {
		seen <- v
		return false
	}))

	assert.Equal(t, []string{"B", "C"}, collect(t, seen, 2))
	waitDone(t, w)
}

func TestWorker_StartErrors(t *testing.T) {
	t.Parallel()

	w := New[string](WithName("shard-7"))
	assert.Equal(t, "shard-7", w.Name())
	require.ErrorIs(t, w.Start(nil), ErrNilCallback)

	cb := func(string) bool { return false }
	require.NoError(t, w.Start(cb))
	require.ErrorIs(t, w.Start(cb), ErrAlreadyRunning)

	waitDone(t, w)
	require.NoError(t, w.Start(cb), "restart after wait")
	waitDone(t, w)
}

func TestWorker_PushFromCallback(t *testing.T) {
	t.Parallel()

	w := New[string]()
	seen := make(chan string, 10)
	require.NoError(t, w.Start(func(v string) bool {
		seen <- v
		if v == "parent" {
			w.Push("child")
		}
		return false
	}))

	w.Push("parent")
	assert.Equal(t, []string{"parent", "child"}, collect(t, seen, 2))
	waitDone(t, w)
}

func TestWorker_SizeAndDrain(t *testing.T) {
	t.Parallel()

	w := New[string]()
	w.Push("A")
	w.Push("B")
	w.Push("C")
	assert.Equal(t, 3, w.Size())

	assert.Equal(t, []string{"A", "B", "C"}, w.Drain())
	assert.Equal(t, 0, w.Size())
	assert.Empty(t, w.Drain())
}

func TestWorker_NilInterfaceItem(t *testing.T) {
	t.Parallel()

	w := New[error]()
	seen := make(chan error, 1)
	require.NoError(t, w.Start(func(v error) bool {
		seen <- v
		return false
	}))
	w.Push(nil)

	select {
	case v := <-seen:
		assert.NoError(t, v)
	case <-time.After(testTimeout):
		t.Fatal("nil item not delivered")
	}
	w.Wait()
}

func TestWorker_ZeroValue(t *testing.T) {
	t.Parallel()

	t.Run("teardown without use", func(t *testing.T) {
		t.Parallel()
		var w Worker[string]
		waitDone(t, &w)
		w.Stop()
		assert.Equal(t, 0, w.Size())
		assert.Empty(t, w.Drain())
		assert.False(t, w.Running())
	})

	t.Run("push then start", func(t *testing.T) {
		t.Parallel()
		var w Worker[string]
		w.Push("A")
		w.Push("B")
		assert.Equal(t, 2, w.Size())

		seen := make(chan string, 10)
		require.NoError(t, w.Start(func(v string) bool {
			seen <- v
			return false
		}))
		assert.Equal(t, []string{"A", "B"}, collect(t, seen, 2))
		waitDone(t, &w)
		assert.False(t, w.Running())
	})
}
