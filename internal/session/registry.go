package session

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	capture "github.com/eugener/capture/internal"
	"github.com/eugener/capture/internal/socket"
)

// entry is the handler-side state of one session in rotation.
// rounds is read by admin snapshots; the other counters belong to the
// shard goroutine currently holding the socket.
type entry struct {
	sock    *socket.Socket
	shard   int
	span    trace.Span
	rounds  atomic.Int64
	invalid int64
	seenIn  int64 // bytes already reported to metrics
	seenOut int64
}

// Registry tracks sessions currently in worker rotation.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) add(e *entry) {
	r.mu.Lock()
	r.entries[e.sock.ID()] = e
	r.mu.Unlock()
}

func (r *Registry) get(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// remove deletes and returns the entry, or nil if it was not registered.
func (r *Registry) remove(id string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)
	return e
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns a snapshot of one live session.
func (r *Registry) Get(id string) (capture.LiveSession, bool) {
	e := r.get(id)
	if e == nil {
		return capture.LiveSession{}, false
	}
	return e.snapshot(), true
}

// List returns snapshots of all live sessions, oldest first.
func (r *Registry) List() []capture.LiveSession {
	r.mu.RLock()
	out := make([]capture.LiveSession, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b capture.LiveSession) int {
		return a.OpenedAt.Compare(b.OpenedAt)
	})
	return out
}

func (e *entry) snapshot() capture.LiveSession {
	st := e.sock.Stats()
	return capture.LiveSession{
		ID:         e.sock.ID(),
		Peer:       e.sock.Peer(),
		ClientName: e.sock.Name(),
		Shard:      e.shard,
		Frames:     st.Frames,
		BytesIn:    st.BytesIn,
		BytesOut:   st.BytesOut,
		Rounds:     e.rounds.Load(),
		OpenedAt:   st.OpenedAt,
		LastActive: st.LastActive,
	}
}
