package testutil

import (
	"context"
	"net/http"

	capture "github.com/eugener/capture/internal"
)

// FakeAuth always authenticates successfully as an admin.
type FakeAuth struct{}

// Authenticate returns a test admin identity.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*capture.Identity, error) {
	return &capture.Identity{Subject: "test", AuthMethod: "admin_key"}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*capture.Identity, error) {
	return nil, capture.ErrUnauthorized
}
