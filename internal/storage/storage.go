// Package storage persists opaque session documents keyed by session id.
// Every backend applies Update atomically per id.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session doesn't exist or expired
var ErrSessionNotFound = errors.New("session not found")

// UpdateFunc receives the current document, nil when none exists, and
// returns its replacement. Returning nil deletes the document. Backends may
// call it more than once when a concurrent write wins, so it must not have
// side effects.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is the persistence contract for session documents.
type Store interface {
	// Get returns the document for id or ErrSessionNotFound.
	Get(ctx context.Context, id string) ([]byte, error)

	// Update atomically replaces the document for id with fn's result.
	// ttl is the lifetime of the written document.
	Update(ctx context.Context, id string, ttl time.Duration, fn UpdateFunc) error

	// Delete removes the document for id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}
