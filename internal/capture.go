// Package capture defines domain types and interfaces for the capture daemon.
// This package has no project imports -- it is the dependency root.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// --- Sessions ---

// CloseReason explains why a session left the worker rotation.
type CloseReason string

const (
	ReasonEOF           CloseReason = "eof"
	ReasonReadError     CloseReason = "read_error"
	ReasonWriteError    CloseReason = "write_error"
	ReasonIdleTimeout   CloseReason = "idle_timeout"
	ReasonClientBye     CloseReason = "client_bye"
	ReasonProtocolError CloseReason = "protocol_error"
	ReasonFrameTooLarge CloseReason = "frame_too_large"
	ReasonShutdown      CloseReason = "shutdown"
	ReasonPanic         CloseReason = "panic"
)

// CloseReasons lists every reason, used to pre-register metric labels.
var CloseReasons = []CloseReason{
	ReasonEOF, ReasonReadError, ReasonWriteError, ReasonIdleTimeout,
	ReasonClientBye, ReasonProtocolError, ReasonFrameTooLarge,
	ReasonShutdown, ReasonPanic,
}

// SessionRecord is the persisted summary of one captured connection.
type SessionRecord struct {
	ID          string      `json:"id"`
	Peer        string      `json:"peer"`
	PeerHost    string      `json:"peer_host,omitempty"`
	ClientName  string      `json:"client_name,omitempty"`
	Shard       int         `json:"shard"`
	Frames      int64       `json:"frames"`
	Invalid     int64       `json:"invalid"`
	BytesIn     int64       `json:"bytes_in"`
	BytesOut    int64       `json:"bytes_out"`
	Rounds      int64       `json:"rounds"`
	CloseReason CloseReason `json:"close_reason"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
	DurationMs  int64       `json:"duration_ms"`
}

// SessionFilter narrows session queries. Empty fields match everything.
type SessionFilter struct {
	Peer       string
	ClientName string
	Reason     string
	Since      string // RFC3339, inclusive
	Until      string // RFC3339, exclusive
	Offset     int
	Limit      int
}

// LiveSession is a point-in-time view of a session still in rotation.
type LiveSession struct {
	ID         string    `json:"id"`
	Peer       string    `json:"peer"`
	ClientName string    `json:"client_name,omitempty"`
	Shard      int       `json:"shard"`
	Frames     int64     `json:"frames"`
	BytesIn    int64     `json:"bytes_in"`
	BytesOut   int64     `json:"bytes_out"`
	Rounds     int64     `json:"rounds"`
	OpenedAt   time.Time `json:"opened_at"`
	LastActive time.Time `json:"last_active"`
}

// ShardStat reports the advisory queue depth of one worker shard.
type ShardStat struct {
	Shard   int    `json:"shard"`
	Name    string `json:"name"`
	Queued  int    `json:"queued"`
	Running bool   `json:"running"`
}

// --- Auth ---

// Identity represents an authenticated admin caller.
type Identity struct {
	Subject    string
	AuthMethod string
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// HashKey returns the hex-encoded SHA-256 hash of a raw key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present,
// falling back to new metadata when none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
