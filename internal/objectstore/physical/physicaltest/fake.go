// Package physicaltest provides an in-memory backend with fault injection
// and a conformance suite for physical.Backend implementations.
package physicaltest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
)

// Fake is an in-memory physical.Backend of any kind. Locations are built
// with the location type matching the kind so records round-trip.
type Fake struct {
	kind object.Kind

	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]physical.Meta

	// StoreErr, when set, fails Store after consuming the stream.
	StoreErr error
	// FailAfter, when positive, fails Store once that many bytes were read.
	FailAfter int64
	// DeleteErr, when set, fails every Delete.
	DeleteErr error
	// ReadOnly makes Writable report false.
	ReadOnly bool

	Stores  atomic.Int64
	Deletes atomic.Int64
	closed  atomic.Bool
}

// NewFake creates an empty Fake of kind.
func NewFake(kind object.Kind) *Fake {
	return &Fake{
		kind:    kind,
		objects: make(map[string][]byte),
		meta:    make(map[string]physical.Meta),
	}
}

func (f *Fake) Kind() object.Kind { return f.kind }

func (f *Fake) Writable() bool { return !f.ReadOnly }

func (f *Fake) location(key string) object.Location {
	switch f.kind {
	case object.KindLocal:
		return object.Local{Path: key}
	case object.KindChunked:
		return object.Chunked{FileID: "fake-" + key}
	case object.KindBlobCDN:
		return object.Blob{URL: "https://blob.test/" + key, Pathname: key}
	default:
		return object.Bucket{Bucket: "fake", Key: key}
	}
}

func (f *Fake) keyOf(loc object.Location) (string, error) {
	if loc.Kind() != f.kind {
		return "", fmt.Errorf("fake %s: foreign location %s", f.kind, loc)
	}
	switch l := loc.(type) {
	case object.Local:
		return l.Path, nil
	case object.Chunked:
		return l.FileID[len("fake-"):], nil
	case object.Blob:
		return l.Pathname, nil
	case object.Bucket:
		return l.Key, nil
	}
	return "", fmt.Errorf("fake %s: unknown location %T", f.kind, loc)
}

// Store reads r fully, honoring the injected failures.
func (f *Fake) Store(ctx context.Context, key string, r io.Reader, meta physical.Meta) (object.Location, error) {
	if f.closed.Load() {
		return nil, physical.ErrClosed
	}
	f.Stores.Add(1)

	var buf bytes.Buffer
	src := r
	if f.FailAfter > 0 {
		src = io.LimitReader(r, f.FailAfter)
	}
	if _, err := io.Copy(&buf, src); err != nil {
		return nil, fmt.Errorf("fake %s store: %w", f.kind, err)
	}
	if f.FailAfter > 0 {
		return nil, fmt.Errorf("fake %s store: connection reset after %d bytes", f.kind, f.FailAfter)
	}
	if f.StoreErr != nil {
		return nil, f.StoreErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.objects[key] = buf.Bytes()
	f.meta[key] = meta
	f.mu.Unlock()
	return f.location(key), nil
}

func (f *Fake) Retrieve(_ context.Context, loc object.Location) (io.ReadCloser, error) {
	if f.closed.Load() {
		return nil, physical.ErrClosed
	}
	key, err := f.keyOf(loc)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, physical.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Fake) Delete(_ context.Context, loc object.Location) error {
	if f.closed.Load() {
		return physical.ErrClosed
	}
	f.Deletes.Add(1)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	key, err := f.keyOf(loc)
	if err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.objects, key)
	delete(f.meta, key)
	f.mu.Unlock()
	return nil
}

func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

// Has reports whether key is stored.
func (f *Fake) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// Len returns the number of stored objects.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// Meta returns the metadata recorded for key.
func (f *Fake) Meta(key string) (physical.Meta, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[key]
	return m, ok
}
