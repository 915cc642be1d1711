// Package testutil provides configurable test fakes for capture interfaces.
package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	capture "github.com/eugener/capture/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu       sync.RWMutex
	sessions []capture.SessionRecord
	InsertFn func(records []capture.SessionRecord) error // optional failure injection
	PingErr  error
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

// InsertSessions appends records.
func (s *FakeStore) InsertSessions(_ context.Context, records []capture.SessionRecord) error {
	if s.InsertFn != nil {
		if err := s.InsertFn(records); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.sessions = append(s.sessions, records...)
	s.mu.Unlock()
	return nil
}

// GetSession returns the record with the given ID.
func (s *FakeStore) GetSession(_ context.Context, id string) (*capture.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			r := s.sessions[i]
			return &r, nil
		}
	}
	return nil, capture.ErrNotFound
}

// ListSessions returns records matching f, newest first.
func (s *FakeStore) ListSessions(_ context.Context, f capture.SessionFilter) ([]capture.SessionRecord, error) {
	out := s.match(f)
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountSessions returns the number of records matching f.
func (s *FakeStore) CountSessions(_ context.Context, f capture.SessionFilter) (int, error) {
	return len(s.match(f)), nil
}

// DeleteSessionsBefore removes records closed before t.
func (s *FakeStore) DeleteSessionsBefore(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.sessions)
	s.sessions = slices.DeleteFunc(s.sessions, func(r capture.SessionRecord) bool {
		return r.ClosedAt.Before(t)
	})
	return int64(before - len(s.sessions)), nil
}

// Ping returns PingErr.
func (s *FakeStore) Ping(context.Context) error { return s.PingErr }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }

// Len returns the number of stored records.
func (s *FakeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sessions returns a copy of all stored records in insertion order.
func (s *FakeStore) Sessions() []capture.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sessions)
}

func (s *FakeStore) match(f capture.SessionFilter) []capture.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []capture.SessionRecord
	for _, r := range s.sessions {
		if f.Peer != "" && r.Peer != f.Peer {
			continue
		}
		if f.ClientName != "" && r.ClientName != f.ClientName {
			continue
		}
		if f.Reason != "" && string(r.CloseReason) != f.Reason {
			continue
		}
		out = append(out, r)
	}
	slices.Reverse(out)
	return out
}
