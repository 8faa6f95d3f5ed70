// Package physical provides the key-value contract behind the metadata store.
package physical

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the requested key was not found.
	ErrNotFound = errors.New("key not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")
)

// Entry is one key-value pair.
type Entry struct {
	Key   string
	Value []byte
}

// Backend is a flat key-value store. All implementations must be
// thread-safe. Put and Delete apply every entry or none of them.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, entries ...Entry) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}
