package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/observability"
	"github.com/gezibash/drop/internal/storage"
)

// reclaimTimeout bounds best-effort cleanup that runs after the request
// context may already be gone.
const reclaimTimeout = 30 * time.Second

// Upload is the input to a placement.
type Upload struct {
	Body io.Reader
	Size int64 // declared size; -1 when unknown
	// SizeHint is an upper-bound estimate used only for routing when Size
	// is unknown, such as the length of a multipart request body.
	SizeHint    int64
	Name        string
	ContentType string
	// Backend is an explicit backend request. Empty lets the router choose.
	Backend object.Kind
	// Checksum, when set, is trusted verbatim and no digest is computed.
	Checksum string
}

// Placement is where an upload's bytes ended up.
type Placement struct {
	Location object.Location
	// Residual lists secondary copies that could not be reclaimed.
	Residual []object.Location
	Size     int64
	Checksum string
}

// Locations returns every location holding bytes for the placement.
func (p *Placement) Locations() []object.Location {
	return append([]object.Location{p.Location}, p.Residual...)
}

// RouterConfig holds the size policy.
type RouterConfig struct {
	// MaxUploadSize rejects larger uploads. Zero disables the limit.
	MaxUploadSize int64
	// LargeFileThreshold routes larger uploads to the bucket/chunked-store
	// pair. Zero disables large-file routing.
	LargeFileThreshold int64
}

// Router decides which backends receive an upload and writes it.
type Router struct {
	set     *physical.Set
	cfg     RouterConfig
	metrics *observability.Metrics
}

// NewRouter creates a Router over the live backends in set.
func NewRouter(set *physical.Set, cfg RouterConfig, metrics *observability.Metrics) *Router {
	return &Router{set: set, cfg: cfg, metrics: metrics}
}

// route is a precedence-ordered pair of candidate backends. The first one
// to succeed in order wins; both are written concurrently.
type route struct {
	preferred, fallback object.Kind
}

var (
	largeRoute = route{preferred: object.KindBucket, fallback: object.KindChunked}
	smallRoute = route{preferred: object.KindBlobCDN, fallback: object.KindLocal}
)

// Place stores up under key and returns the resulting placement.
//
// An explicit backend request is honored with no fallback. Otherwise large
// uploads are dual-written to the bucket and the chunked store, and small
// uploads to the CDN and local disk; the higher-precedence copy that
// succeeds becomes authoritative and the other copy is reclaimed.
func (r *Router) Place(ctx context.Context, key string, up *Upload) (_ *Placement, err error) {
	op, ctx := observability.StartOperation(ctx, r.metrics, "objectstore.store",
		attribute.String("key", key),
		attribute.Int64("declared_size", up.Size),
		attribute.String("requested_backend", string(up.Backend)),
	)
	defer func() { op.End(err) }()

	if r.cfg.MaxUploadSize > 0 && up.Size > r.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: declared %d bytes, limit %d", ErrPayloadTooLarge, up.Size, r.cfg.MaxUploadSize)
	}

	var h *Hasher
	body := newLimitReader(up.Body, r.cfg.MaxUploadSize)
	if up.Checksum != "" {
		h = NewMeter(body)
	} else {
		h = NewHasher(body)
	}
	meta := physical.Meta{Name: up.Name, ContentType: up.ContentType, Size: up.Size}

	var p *Placement
	switch {
	case up.Backend != "":
		p, err = r.placeExplicit(ctx, key, h, meta, up.Backend)
	case r.isLarge(up.routingSize()):
		p, err = r.placeDual(ctx, key, h, meta, largeRoute)
	default:
		p, err = r.placeDual(ctx, key, h, meta, smallRoute)
	}
	if err != nil {
		return nil, err
	}
	if err := h.finish(); err != nil {
		if left := Reclaim(ctx, r.set, key, p.Locations()); len(left) > 0 {
			slog.ErrorContext(ctx, "orphaned bytes after incomplete read", "key", key, "locations", len(left))
		}
		return nil, err
	}

	p.Size = h.N()
	p.Checksum = up.Checksum
	if p.Checksum == "" {
		p.Checksum = h.Sum()
	}
	r.metrics.Bytes("in", p.Size)
	return p, nil
}

func (up *Upload) routingSize() int64 {
	if up.Size >= 0 {
		return up.Size
	}
	return up.SizeHint
}

// isLarge reports whether size should take the large-file route. Unknown
// sizes are small; so is everything when neither large backend can write.
func (r *Router) isLarge(size int64) bool {
	if r.cfg.LargeFileThreshold <= 0 || size <= r.cfg.LargeFileThreshold {
		return false
	}
	return r.set.Writable(largeRoute.preferred) || r.set.Writable(largeRoute.fallback)
}

func (r *Router) writable(kind object.Kind) (physical.Backend, error) {
	b, err := r.set.Get(kind)
	if err != nil {
		return nil, err
	}
	if !physical.CanStore(b) {
		return nil, storage.NewConfigError(string(kind), "", "backend is read-only")
	}
	return b, nil
}

func (r *Router) placeExplicit(ctx context.Context, key string, h *Hasher, meta physical.Meta, kind object.Kind) (*Placement, error) {
	b, err := r.writable(kind)
	if err != nil {
		return nil, &BackendError{Backends: []object.Kind{kind}, Err: err}
	}
	loc, err := b.Store(ctx, key, h, meta)
	r.metrics.BackendWrite(string(kind), err)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return nil, ErrPayloadTooLarge
		}
		return nil, &BackendError{Backends: []object.Kind{kind}, Err: err}
	}
	return &Placement{Location: loc}, nil
}

type writeResult struct {
	kind object.Kind
	loc  object.Location
	err  error
}

func (r *Router) placeDual(ctx context.Context, key string, h *Hasher, meta physical.Meta, rt route) (*Placement, error) {
	var targets []physical.Backend
	var skipped []error
	for _, kind := range []object.Kind{rt.preferred, rt.fallback} {
		b, err := r.writable(kind)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		targets = append(targets, b)
	}

	switch len(targets) {
	case 0:
		return nil, &BackendError{Backends: []object.Kind{rt.preferred, rt.fallback}, Err: errors.Join(skipped...)}
	case 1:
		b := targets[0]
		loc, err := b.Store(ctx, key, h, meta)
		r.metrics.BackendWrite(string(b.Kind()), err)
		if err != nil {
			if errors.Is(err, ErrPayloadTooLarge) {
				return nil, ErrPayloadTooLarge
			}
			return nil, &BackendError{Backends: []object.Kind{b.Kind()}, Err: err}
		}
		if b.Kind() != rt.preferred {
			r.metrics.Fallback(string(rt.preferred), string(b.Kind()))
		}
		return &Placement{Location: loc}, nil
	}

	results := r.writeBoth(ctx, key, h, meta, targets[0], targets[1])
	return r.settle(ctx, key, results)
}

// writeBoth streams the same bytes into two backends concurrently and
// waits for both to finish.
func (r *Router) writeBoth(ctx context.Context, key string, src io.Reader, meta physical.Meta, a, b physical.Backend) [2]writeResult {
	fan := NewFanout(src, 2)
	var results [2]writeResult
	var g errgroup.Group
	for i, backend := range []physical.Backend{a, b} {
		g.Go(func() error {
			branch := fan.Branch(i)
			defer branch.Abandon()
			loc, err := backend.Store(ctx, key, branch, meta)
			results[i] = writeResult{kind: backend.Kind(), loc: loc, err: err}
			r.metrics.BackendWrite(string(backend.Kind()), err)
			return nil
		})
	}
	_ = g.Wait()
	if srcErr := fan.Wait(); srcErr != nil {
		// The client stream failed; neither copy is complete.
		for i := range results {
			if results[i].err == nil {
				Reclaim(ctx, r.set, key, []object.Location{results[i].loc})
				results[i].err = srcErr
			}
		}
	}
	return results
}

// settle picks the authoritative copy: the first result, in precedence
// order, that succeeded. The other successful copy is reclaimed.
func (r *Router) settle(ctx context.Context, key string, results [2]writeResult) (*Placement, error) {
	winner := -1
	for i, res := range results {
		if res.err == nil {
			winner = i
			break
		}
	}

	if winner < 0 {
		for _, res := range results {
			if errors.Is(res.err, ErrPayloadTooLarge) {
				return nil, ErrPayloadTooLarge
			}
		}
		return nil, &BackendError{
			Backends: []object.Kind{results[0].kind, results[1].kind},
			Err:      errors.Join(results[0].err, results[1].err),
		}
	}

	p := &Placement{Location: results[winner].loc}
	if winner > 0 {
		slog.WarnContext(ctx, "preferred backend failed, using fallback",
			"key", key, "backend", results[0].kind, "fallback", results[winner].kind, "error", results[0].err)
		r.metrics.Fallback(string(results[0].kind), string(results[winner].kind))
	}
	for i, res := range results {
		if i == winner {
			continue
		}
		if res.err != nil {
			if i > winner {
				slog.WarnContext(ctx, "secondary backend write failed", "key", key, "backend", res.kind, "error", res.err)
			}
			continue
		}
		p.Residual = append(p.Residual, Reclaim(ctx, r.set, key, []object.Location{res.loc})...)
	}
	return p, nil
}

// Reclaim deletes every location best-effort, without stopping at the first
// failure, and returns the locations that could not be deleted. It keeps
// running after ctx is cancelled, bounded by its own timeout. id only
// labels log lines.
func Reclaim(ctx context.Context, set *physical.Set, id string, locs []object.Location) []object.Location {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reclaimTimeout)
	defer cancel()

	var failed []object.Location
	for _, loc := range locs {
		if err := deleteLocation(ctx, set, loc); err != nil {
			slog.WarnContext(ctx, "backend delete failed", "id", id, "backend", loc.Kind(), "location", loc.String(), "error", err)
			failed = append(failed, loc)
		}
	}
	return failed
}

func deleteLocation(ctx context.Context, set *physical.Set, loc object.Location) error {
	b, err := set.Get(loc.Kind())
	if err != nil {
		return err
	}
	return b.Delete(ctx, loc)
}
