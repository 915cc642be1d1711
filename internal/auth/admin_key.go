// Package auth authenticates callers of the admin HTTP API.
// Verified keys are cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	capture "github.com/eugener/capture/internal"
)

const (
	cacheTTL    = 30 * time.Second
	cacheMaxLen = 1_000
)

// AdminKey is a named admin credential.
type AdminKey struct {
	Name string
	Key  string
}

type hashedKey struct {
	name string
	hash []byte
}

// AdminKeyAuth authenticates requests carrying one of the configured admin
// keys as a Bearer token. With no keys configured every request is rejected.
type AdminKeyAuth struct {
	keys  []hashedKey
	cache *otter.Cache[string, *capture.Identity]
}

// NewAdminKeyAuth hashes keys and returns an authenticator. Keys with an
// empty value are skipped.
func NewAdminKeyAuth(keys []AdminKey) (*AdminKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *capture.Identity]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *capture.Identity](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	a := &AdminKeyAuth{cache: c}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		name := k.Name
		if name == "" {
			name = "admin"
		}
		a.keys = append(a.keys, hashedKey{name: name, hash: []byte(capture.HashKey(k.Key))})
	}
	return a, nil
}

// Enabled reports whether any admin key is configured.
func (a *AdminKeyAuth) Enabled() bool { return len(a.keys) > 0 }

// Authenticate extracts a Bearer token from the Authorization header and
// matches it against the configured keys.
func (a *AdminKeyAuth) Authenticate(_ context.Context, r *http.Request) (*capture.Identity, error) {
	header := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header || !a.Enabled() {
		return nil, capture.ErrUnauthorized
	}

	hash := capture.HashKey(raw)
	if id, ok := a.cache.GetIfPresent(hash); ok {
		return id, nil
	}

	// Compare against every key so timing does not reveal which one matched.
	var match string
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k.hash, []byte(hash)) == 1 && match == "" {
			match = k.name
		}
	}
	if match == "" {
		return nil, capture.ErrUnauthorized
	}

	id := &capture.Identity{Subject: match, AuthMethod: "admin_key"}
	a.cache.Set(hash, id)
	return id, nil
}
