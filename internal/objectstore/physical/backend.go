// Package physical defines the storage backend contract for object bytes.
package physical

import (
	"context"
	"errors"
	"io"

	"github.com/gezibash/drop/internal/object"
)

var (
	// ErrNotFound indicates the object is not present in the backend.
	ErrNotFound = errors.New("object not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")
)

// Meta describes the bytes being stored.
type Meta struct {
	Name        string
	ContentType string
	// Size is the declared length, or -1 when unknown.
	Size int64
}

// Backend stores, retrieves and deletes object bytes.
// All implementations must be safe for concurrent use.
type Backend interface {
	Kind() object.Kind

	// Store streams r into the backend under key and returns where it landed.
	// A partially written object is removed before an error is returned.
	Store(ctx context.Context, key string, r io.Reader, meta Meta) (object.Location, error)

	// Retrieve opens the bytes at loc. Returns ErrNotFound if they are gone.
	Retrieve(ctx context.Context, loc object.Location) (io.ReadCloser, error)

	// Delete removes the bytes at loc. Deleting a missing object is not an error.
	Delete(ctx context.Context, loc object.Location) error

	Close() error
}

// Writable is implemented by backends that can be configured read-only.
type Writable interface {
	Writable() bool
}

// CanStore reports whether b accepts writes.
func CanStore(b Backend) bool {
	if w, ok := b.(Writable); ok {
		return w.Writable()
	}
	return true
}

// UsageReporter is implemented by backends that can total their stored bytes.
type UsageReporter interface {
	Usage(ctx context.Context) (int64, error)
}
