package objectstore

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/drop/internal/access"
	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/observability"
)

// Resolver turns a stored record back into a byte stream.
type Resolver struct {
	set     *physical.Set
	metrics *observability.Metrics
}

// NewResolver creates a Resolver over set.
func NewResolver(set *physical.Set, metrics *observability.Metrics) *Resolver {
	return &Resolver{set: set, metrics: metrics}
}

// Resolve checks the password gate and opens the object's bytes from its
// authoritative backend. Private objects need the right password before any
// backend is contacted.
//
// Errors: ErrForbidden for a failed gate, ErrNotFound when the backend has no
// bytes, a *storage.ConfigError when the backend is not usable, and a
// *BackendError for any other backend failure.
func (r *Resolver) Resolve(ctx context.Context, o *object.Object, password string) (_ io.ReadCloser, err error) {
	op, ctx := observability.StartOperation(ctx, r.metrics, "objectstore.resolve",
		attribute.String("id", o.ID),
		attribute.String("backend", string(o.Backend())),
	)
	defer func() { op.End(err) }()

	if o.Private() && (password == "" || !access.Verify(password, o.PasswordSalt, o.PasswordHash)) {
		return nil, ErrForbidden
	}

	b, err := r.set.Get(o.Backend())
	if err != nil {
		return nil, err
	}
	rc, err := b.Retrieve(ctx, o.Location)
	if errors.Is(err, physical.ErrNotFound) {
		return nil, errors.Join(ErrNotFound, err)
	}
	if err != nil {
		return nil, &BackendError{Backends: []object.Kind{o.Backend()}, Err: err}
	}
	return &countingReader{rc: rc, metrics: r.metrics}, nil
}

// countingReader reports egress bytes when closed.
type countingReader struct {
	rc      io.ReadCloser
	n       int64
	metrics *observability.Metrics
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) Close() error {
	c.metrics.Bytes("out", c.n)
	c.n = 0
	return c.rc.Close()
}
