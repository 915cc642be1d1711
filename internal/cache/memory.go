package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	capture "github.com/eugener/capture/internal"
)

// Memory is an in-memory W-TinyLFU cache backed by otter.
// Session summaries never change once written, so entries only age out.
type Memory struct {
	cache *otter.Cache[string, *capture.SessionRecord]
}

// NewMemory creates an in-memory cache with the given max entry count and TTL.
func NewMemory(maxSize int, ttl time.Duration) (*Memory, error) {
	c, err := otter.New(&otter.Options[string, *capture.SessionRecord]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, *capture.SessionRecord](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get retrieves a session from the cache if present and not expired.
func (m *Memory) Get(_ context.Context, id string) (*capture.SessionRecord, bool) {
	return m.cache.GetIfPresent(id)
}

// Set stores a session under its ID.
func (m *Memory) Set(_ context.Context, rec *capture.SessionRecord) {
	if rec == nil || rec.ID == "" {
		return
	}
	m.cache.Set(rec.ID, rec)
}

// Delete removes a session from the cache.
func (m *Memory) Delete(_ context.Context, id string) {
	m.cache.Invalidate(id)
}

// Purge removes all sessions from the cache.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}
