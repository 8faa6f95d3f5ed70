package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gezibash/drop/internal/access"
	"github.com/gezibash/drop/internal/ident"
	"github.com/gezibash/drop/internal/metastore"
	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/observability"
)

// Metadata is the record store the service persists into.
type Metadata interface {
	Get(ctx context.Context, id string) (*object.Object, error)
	GetByKey(ctx context.Context, key string) (*object.Object, error)
	Exists(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, o *object.Object) error
	Delete(ctx context.Context, o *object.Object) error
}

// Payload is an upload body as seen by an Optimizer.
type Payload struct {
	Body        io.Reader
	Size        int64
	ContentType string
	Ext         string
	// Rewritten is set by an Optimizer that replaced the bytes.
	Rewritten bool
}

// Optimizer may re-encode an upload before it is stored. It returns the
// payload unchanged when it has nothing to do.
type Optimizer interface {
	Optimize(ctx context.Context, p Payload) (Payload, error)
}

// OptimizerFunc adapts a function to Optimizer.
type OptimizerFunc func(ctx context.Context, p Payload) (Payload, error)

// Optimize calls f.
func (f OptimizerFunc) Optimize(ctx context.Context, p Payload) (Payload, error) {
	return f(ctx, p)
}

// UploadRequest is a client upload after transport decoding.
type UploadRequest struct {
	Body        io.Reader
	Size        int64 // -1 when unknown
	SizeHint    int64
	Name        string
	ContentType string
	Visibility  string
	Password    string
	// Storage is the optional explicit backend selector.
	Storage  string
	Checksum string
	// Trailer, when set, is called once Body is consumed and returns form
	// fields that followed it. Visibility and password may arrive there;
	// storage and checksum steer placement and are rejected.
	Trailer func() (map[string]string, error)
}

// visibility parses the requested visibility. The password requirement is
// enforced only once every field is known.
func (req *UploadRequest) visibility(final bool) (object.Visibility, error) {
	vis, ok := object.ParseVisibility(req.Visibility)
	if !ok {
		return "", invalid("visibility must be public or private, got %q", req.Visibility)
	}
	if final && vis == object.Private && req.Password == "" {
		return "", invalid("password is required for private uploads")
	}
	return vis, nil
}

// applyTrailer merges the fields that followed the body and re-validates.
func (req *UploadRequest) applyTrailer() (object.Visibility, error) {
	fields, err := req.Trailer()
	if err != nil {
		return "", err
	}
	for _, name := range []string{"storage", "checksum"} {
		if fields[name] != "" {
			return "", invalid("%s must be sent before the file", name)
		}
	}
	if v, ok := fields["visibility"]; ok {
		req.Visibility = v
	}
	if v, ok := fields["password"]; ok {
		req.Password = v
	}
	return req.visibility(true)
}

// Service ties the router, resolver and deleter to the metadata store.
type Service struct {
	router    *Router
	resolver  *Resolver
	deleter   *Deleter
	meta      Metadata
	ids       *ident.Allocator
	optimizer Optimizer
	maxSize   int64
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithOptimizer installs an upload optimizer.
func WithOptimizer(o Optimizer) ServiceOption {
	return func(s *Service) { s.optimizer = o }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithAllocator overrides the id allocator.
func WithAllocator(a *ident.Allocator) ServiceOption {
	return func(s *Service) { s.ids = a }
}

// NewService creates a Service over the live backends in set.
func NewService(set *physical.Set, meta Metadata, cfg RouterConfig, metrics *observability.Metrics, opts ...ServiceOption) *Service {
	s := &Service{
		router:   NewRouter(set, cfg, metrics),
		resolver: NewResolver(set, metrics),
		deleter:  NewDeleter(set, meta, metrics),
		meta:     meta,
		ids:      ident.NewAllocator(meta),
		maxSize:  cfg.MaxUploadSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload stores req and persists its record. The record is saved only after
// the bytes are durably placed; if the save fails the bytes are reclaimed.
func (s *Service) Upload(ctx context.Context, req *UploadRequest) (*object.Object, error) {
	if req.Body == nil {
		return nil, invalid("file is required")
	}
	vis, err := req.visibility(req.Trailer == nil)
	if err != nil {
		return nil, err
	}
	var backend object.Kind
	if req.Storage != "" {
		var ok bool
		backend, ok = object.ParseKind(req.Storage)
		if !ok {
			return nil, &BackendError{
				Backends: []object.Kind{object.Kind(req.Storage)},
				Err:      errors.New("unknown storage backend"),
			}
		}
	}
	if s.maxSize > 0 && req.Size > s.maxSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrPayloadTooLarge, req.Size, s.maxSize)
	}

	payload := Payload{
		Body:        req.Body,
		Size:        req.Size,
		ContentType: req.ContentType,
		Ext:         strings.ToLower(filepath.Ext(req.Name)),
	}
	checksum := req.Checksum
	if s.optimizer != nil {
		optimized, err := s.optimizer.Optimize(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("optimize: %w", err)
		}
		// A client checksum describes the original bytes, not re-encoded ones.
		if optimized.Rewritten {
			checksum = ""
		}
		payload = optimized
	}
	if payload.ContentType == "" {
		payload.ContentType = "application/octet-stream"
	}

	o := &object.Object{
		ID:          s.ids.Allocate(ctx),
		DeletionKey: ident.DeletionKey(),
		Name:        req.Name,
		Ext:         payload.Ext,
		ContentType: payload.ContentType,
		CreatedAt:   s.now().UTC(),
	}

	p, err := s.router.Place(ctx, o.Filename(), &Upload{
		Body:        payload.Body,
		Size:        payload.Size,
		SizeHint:    req.SizeHint,
		Name:        req.Name,
		ContentType: payload.ContentType,
		Backend:     backend,
		Checksum:    checksum,
	})
	if err != nil {
		return nil, err
	}
	if req.Trailer != nil {
		if vis, err = req.applyTrailer(); err != nil {
			s.discard(ctx, o.ID, p)
			return nil, err
		}
	}
	o.Visibility = vis
	if vis == object.Private {
		salt, hash, err := access.Hash(req.Password)
		if err != nil {
			s.discard(ctx, o.ID, p)
			return nil, fmt.Errorf("hash password: %w", err)
		}
		o.PasswordSalt, o.PasswordHash = salt, hash
	}
	o.Location = p.Location
	o.Residual = p.Residual
	o.Size = p.Size
	o.Checksum = p.Checksum

	if err := s.meta.Save(ctx, o); err != nil {
		s.discard(ctx, o.ID, p)
		return nil, fmt.Errorf("save record: %w", err)
	}

	slog.InfoContext(ctx, "object stored",
		"id", o.ID, "backend", o.Backend(), "size", o.Size, "private", o.Private(), "residual", len(o.Residual))
	return o, nil
}

// discard reclaims placed bytes that will never get a record.
func (s *Service) discard(ctx context.Context, id string, p *Placement) {
	if left := Reclaim(ctx, s.router.set, id, p.Locations()); len(left) > 0 {
		slog.ErrorContext(ctx, "orphaned bytes after failed upload", "id", id, "locations", len(left))
	}
}

// Lookup finds a record by public id (extension ignored) or deletion key.
func (s *Service) Lookup(ctx context.Context, ref string) (*object.Object, error) {
	o, err := s.meta.Get(ctx, StripExt(ref))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, metastore.ErrNotFound) {
		return nil, err
	}
	o, err = s.meta.GetByKey(ctx, ref)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, ErrNotFound
	}
	return o, err
}

// Open resolves the public id ref (extension ignored) to its record and an
// open byte stream. The caller must close the stream.
func (s *Service) Open(ctx context.Context, ref, password string) (*object.Object, io.ReadCloser, error) {
	o, err := s.meta.Get(ctx, StripExt(ref))
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.resolver.Resolve(ctx, o, password)
	if err != nil {
		return nil, nil, err
	}
	return o, rc, nil
}

// Delete removes the object whose deletion key is key.
func (s *Service) Delete(ctx context.Context, key string) (*object.Object, error) {
	if key == "" {
		return nil, invalid("key is required")
	}
	o, err := s.meta.GetByKey(ctx, key)
	if errors.Is(err, metastore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.deleter.Delete(ctx, o); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "object deleted", "id", o.ID, "backend", o.Backend())
	return o, nil
}

// StripExt drops everything from the first dot, so "aB3dE9.png" and
// "aB3dE9" name the same object.
func StripExt(ref string) string {
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		return ref[:i]
	}
	return ref
}
