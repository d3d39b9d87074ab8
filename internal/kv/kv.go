// Package kv defines the bundle key-value contract shared by the sync
// endpoint's backing store and the client's local cache: one opaque JSON
// payload per user id, overwritten wholesale on every write.
package kv

import (
	"context"
	"errors"
)

// MetaLastUserID is the meta key holding the last logged-in user id, for
// session continuity across restarts.
const MetaLastUserID = "last_user_id"

// ErrUnavailable wraps backing-store failures. Absence of a key is not an
// error: Get returns a nil payload instead, because absence and empty state
// are indistinguishable to callers by design.
var ErrUnavailable = errors.New("backing store unavailable")

// Store is a durable mapping from user id to one opaque bundle payload.
// Implementations do not interpret payload contents.
type Store interface {
	// Get returns the stored payload for userID, or nil when absent.
	Get(ctx context.Context, userID string) ([]byte, error)

	// Put overwrites the payload for userID unconditionally. Last write wins.
	Put(ctx context.Context, userID string, payload []byte) error

	// GetMeta returns the value of a small out-of-band key, or "" when absent.
	GetMeta(ctx context.Context, key string) (string, error)

	// SetMeta overwrites a small out-of-band key.
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}
