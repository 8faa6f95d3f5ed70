package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/objectstore/physical/physicaltest"
)

type fakes struct {
	local, chunked, cdn, bucket *physicaltest.Fake
}

// newFakes returns one fake per kind; only the listed kinds join the set.
func newFakes(kinds ...object.Kind) (*fakes, *physical.Set) {
	f := &fakes{
		local:   physicaltest.NewFake(object.KindLocal),
		chunked: physicaltest.NewFake(object.KindChunked),
		cdn:     physicaltest.NewFake(object.KindBlobCDN),
		bucket:  physicaltest.NewFake(object.KindBucket),
	}
	set := physical.NewSet()
	for _, b := range []*physicaltest.Fake{f.local, f.chunked, f.cdn, f.bucket} {
		if slices.Contains(kinds, b.Kind()) {
			set.Add(b)
		}
	}
	return f, set
}

func readBack(t *testing.T, set *physical.Set, loc object.Location) []byte {
	t.Helper()
	b, err := set.Get(loc.Kind())
	if err != nil {
		t.Fatalf("Get(%s): %v", loc.Kind(), err)
	}
	rc, err := b.Retrieve(context.Background(), loc)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func place(t *testing.T, r *Router, key string, data []byte, up Upload) (*Placement, error) {
	t.Helper()
	up.Body = bytes.NewReader(data)
	if up.Size == 0 {
		up.Size = int64(len(data))
	}
	return r.Place(context.Background(), key, &up)
}

func TestSmallUploadLocalOnly(t *testing.T) {
	f, set := newFakes(object.KindLocal)
	r := NewRouter(set, RouterConfig{}, nil)
	data := bytes.Repeat([]byte("a"), 50)

	p, err := place(t, r, "aB3dE9.txt", data, Upload{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if p.Location != (object.Local{Path: "aB3dE9.txt"}) {
		t.Errorf("location = %#v", p.Location)
	}
	if p.Checksum != md5hex(data) || p.Size != 50 {
		t.Errorf("checksum=%s size=%d", p.Checksum, p.Size)
	}
	if !bytes.Equal(readBack(t, set, p.Location), data) {
		t.Error("stored bytes differ")
	}
	if m, _ := f.local.Meta("aB3dE9.txt"); m.ContentType != "text/plain" {
		t.Errorf("content type = %q", m.ContentType)
	}
}

func TestSmallUploadCDNWins(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindBlobCDN)
	r := NewRouter(set, RouterConfig{}, nil)
	data := []byte("hello cdn")

	p, err := place(t, r, "cdn001.txt", data, Upload{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location.Kind() != object.KindBlobCDN {
		t.Fatalf("authoritative = %s, want blob-cdn", p.Location.Kind())
	}
	if !bytes.Equal(readBack(t, set, p.Location), data) {
		t.Error("cdn bytes differ")
	}
	if f.local.Has("cdn001.txt") {
		t.Error("local copy was not reclaimed")
	}
	if len(p.Residual) != 0 {
		t.Errorf("residual = %v", p.Residual)
	}
}

func TestSmallUploadCDNFailureIsSwallowed(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindBlobCDN)
	f.cdn.StoreErr = errors.New("cdn: 503")
	r := NewRouter(set, RouterConfig{}, nil)
	data := bytes.Repeat([]byte("z"), 3*teeChunkSize+7)

	p, err := place(t, r, "fsw001.bin", data, Upload{})
	if err != nil {
		t.Fatalf("Place surfaced CDN failure: %v", err)
	}
	if p.Location.Kind() != object.KindLocal {
		t.Fatalf("authoritative = %s, want local", p.Location.Kind())
	}
	if got := readBack(t, set, p.Location); md5hex(got) != p.Checksum {
		t.Error("checksum does not match retrievable bytes")
	}
}

func TestSmallUploadLocalFailsCDNHolds(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindBlobCDN)
	f.local.FailAfter = 10
	r := NewRouter(set, RouterConfig{}, nil)

	p, err := place(t, r, "cdn002.txt", bytes.Repeat([]byte("q"), 100), Upload{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location.Kind() != object.KindBlobCDN {
		t.Errorf("authoritative = %s", p.Location.Kind())
	}
}

func TestReadOnlyCDNIsSkipped(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindBlobCDN)
	f.cdn.ReadOnly = true
	r := NewRouter(set, RouterConfig{}, nil)

	p, err := place(t, r, "ro0001.txt", []byte("x"), Upload{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location.Kind() != object.KindLocal || f.cdn.Stores.Load() != 0 {
		t.Errorf("location=%s cdn stores=%d", p.Location.Kind(), f.cdn.Stores.Load())
	}
}

func TestBothSmallBackendsFail(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindBlobCDN)
	f.local.StoreErr = errors.New("disk full")
	f.cdn.StoreErr = errors.New("cdn down")
	r := NewRouter(set, RouterConfig{}, nil)

	_, err := place(t, r, "fail01.txt", []byte("x"), Upload{})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if !slices.Contains(be.Backends, object.KindLocal) || !slices.Contains(be.Backends, object.KindBlobCDN) {
		t.Errorf("backends = %v", be.Backends)
	}
	if !strings.Contains(err.Error(), "local") || !strings.Contains(err.Error(), "blob-cdn") {
		t.Errorf("message %q does not name both backends", err)
	}
}

func TestNoBackendsConfigured(t *testing.T) {
	_, set := newFakes()
	r := NewRouter(set, RouterConfig{}, nil)
	_, err := place(t, r, "none01.txt", []byte("x"), Upload{})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
}

func TestLargeUploadFallsBackToChunked(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindChunked, object.KindBucket)
	f.bucket.FailAfter = 1000
	r := NewRouter(set, RouterConfig{LargeFileThreshold: 1024}, nil)
	data := bytes.Repeat([]byte("L"), 5*teeChunkSize)

	p, err := place(t, r, "big001.iso", data, Upload{})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if p.Location.Kind() != object.KindChunked {
		t.Fatalf("authoritative = %s, want chunked-store", p.Location.Kind())
	}
	got := readBack(t, set, p.Location)
	if !bytes.Equal(got, data) || md5hex(got) != p.Checksum {
		t.Error("fallback copy does not match checksum")
	}
	if f.local.Stores.Load() != 0 {
		t.Error("large upload touched local disk")
	}
}

func TestLargeUploadBucketWins(t *testing.T) {
	f, set := newFakes(object.KindChunked, object.KindBucket)
	r := NewRouter(set, RouterConfig{LargeFileThreshold: 10}, nil)

	p, err := place(t, r, "big002.iso", bytes.Repeat([]byte("B"), 100), Upload{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location.Kind() != object.KindBucket {
		t.Errorf("authoritative = %s, want bucket", p.Location.Kind())
	}
	if f.chunked.Len() != 0 {
		t.Error("chunked copy was not reclaimed")
	}
}

func TestLargeUploadBothFail(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindChunked, object.KindBucket)
	f.bucket.StoreErr = errors.New("r2 down")
	f.chunked.StoreErr = errors.New("mongo down")
	r := NewRouter(set, RouterConfig{LargeFileThreshold: 10}, nil)

	_, err := place(t, r, "big003.iso", bytes.Repeat([]byte("B"), 100), Upload{})
	var be *BackendError
	if !errors.As(err, &be) || len(be.Backends) != 2 {
		t.Fatalf("err = %v, want BackendError naming both", err)
	}
	if f.local.Stores.Load() != 0 {
		t.Error("fell back to local disk")
	}
}

func TestLargeUploadWithoutLargeBackends(t *testing.T) {
	_, set := newFakes(object.KindLocal)
	r := NewRouter(set, RouterConfig{LargeFileThreshold: 10}, nil)
	p, err := place(t, r, "big004.iso", bytes.Repeat([]byte("B"), 100), Upload{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location.Kind() != object.KindLocal {
		t.Errorf("authoritative = %s", p.Location.Kind())
	}
}

func TestSizeHintRoutesUnknownSize(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindBucket)
	r := NewRouter(set, RouterConfig{LargeFileThreshold: 10}, nil)

	p, err := place(t, r, "big005.iso", bytes.Repeat([]byte("B"), 100), Upload{Size: -1, SizeHint: 120})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location.Kind() != object.KindBucket || p.Size != 100 {
		t.Errorf("placement = %s size %d", p.Location.Kind(), p.Size)
	}
	if f.local.Stores.Load() != 0 {
		t.Error("hinted large upload touched local disk")
	}

	p, err = place(t, r, "small1.txt", bytes.Repeat([]byte("s"), 100), Upload{Size: -1})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location.Kind() != object.KindLocal {
		t.Errorf("unknown size without hint went to %s", p.Location.Kind())
	}
}

func TestExplicitBackendUnconfigured(t *testing.T) {
	f, set := newFakes(object.KindLocal)
	r := NewRouter(set, RouterConfig{}, nil)

	_, err := place(t, r, "exp001.txt", []byte("x"), Upload{Backend: object.KindBucket})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if !slices.Equal(be.Backends, []object.Kind{object.KindBucket}) {
		t.Errorf("backends = %v", be.Backends)
	}
	if f.local.Stores.Load() != 0 {
		t.Error("explicit request fell back to local")
	}
}

func TestExplicitBackendFailureNoFallback(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindChunked)
	f.chunked.StoreErr = errors.New("mongo down")
	r := NewRouter(set, RouterConfig{}, nil)

	_, err := place(t, r, "exp002.txt", []byte("x"), Upload{Backend: object.KindChunked})
	var be *BackendError
	if !errors.As(err, &be) || be.Backends[0] != object.KindChunked {
		t.Fatalf("err = %v", err)
	}
	if f.local.Stores.Load() != 0 {
		t.Error("explicit request fell back to local")
	}
}

func TestExplicitBackendHonored(t *testing.T) {
	_, set := newFakes(object.KindLocal, object.KindChunked, object.KindBlobCDN)
	r := NewRouter(set, RouterConfig{}, nil)
	p, err := place(t, r, "exp003.txt", []byte("x"), Upload{Backend: object.KindChunked})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location != (object.Chunked{FileID: "fake-exp003.txt"}) {
		t.Errorf("location = %#v", p.Location)
	}
}

func TestDeclaredSizeOverLimit(t *testing.T) {
	f, set := newFakes(object.KindLocal)
	r := NewRouter(set, RouterConfig{MaxUploadSize: 10}, nil)
	_, err := place(t, r, "max001.bin", make([]byte, 11), Upload{})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v", err)
	}
	if f.local.Stores.Load() != 0 {
		t.Error("oversized upload reached a backend")
	}
}

func TestStreamOverLimit(t *testing.T) {
	for _, kinds := range [][]object.Kind{
		{object.KindLocal},
		{object.KindLocal, object.KindBlobCDN},
	} {
		f, set := newFakes(kinds...)
		r := NewRouter(set, RouterConfig{MaxUploadSize: 100}, nil)
		_, err := place(t, r, "max002.bin", make([]byte, 5*teeChunkSize), Upload{Size: -1})
		if !errors.Is(err, ErrPayloadTooLarge) {
			t.Fatalf("%v: err = %v, want ErrPayloadTooLarge", kinds, err)
		}
		if f.local.Len() != 0 || f.cdn.Len() != 0 {
			t.Errorf("%v: partial upload left bytes behind", kinds)
		}
	}
}

// prefixStore keeps only the first n bytes of every body and reports success.
type prefixStore struct {
	*physicaltest.Fake
	n int64
}

func (p *prefixStore) Store(ctx context.Context, key string, r io.Reader, meta physical.Meta) (object.Location, error) {
	return p.Fake.Store(ctx, key, io.LimitReader(r, p.n), meta)
}

func TestBackendStoppingEarlyIsRejected(t *testing.T) {
	fake := physicaltest.NewFake(object.KindLocal)
	r := NewRouter(physical.NewSet(&prefixStore{Fake: fake, n: 3}), RouterConfig{}, nil)

	_, err := place(t, r, "cut001.txt", []byte("hello world"), Upload{Backend: object.KindLocal})
	if !errors.Is(err, errShortRead) {
		t.Fatalf("err = %v, want errShortRead", err)
	}
	if fake.Len() != 0 {
		t.Error("truncated copy was not reclaimed")
	}

	p, err := place(t, r, "cut002.txt", []byte("abc"), Upload{Backend: object.KindLocal})
	if err != nil {
		t.Fatalf("body that fits: %v", err)
	}
	if p.Size != 3 || p.Checksum != md5hex([]byte("abc")) {
		t.Errorf("size=%d checksum=%s", p.Size, p.Checksum)
	}
}

func TestClientChecksumTrusted(t *testing.T) {
	_, set := newFakes(object.KindLocal)
	r := NewRouter(set, RouterConfig{}, nil)
	p, err := place(t, r, "sum001.txt", []byte("data"), Upload{Checksum: "client-says-so"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Checksum != "client-says-so" || p.Size != 4 {
		t.Errorf("checksum=%q size=%d", p.Checksum, p.Size)
	}
}

func TestResidualWhenReclaimFails(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindBlobCDN)
	f.local.DeleteErr = errors.New("permission denied")
	r := NewRouter(set, RouterConfig{}, nil)

	p, err := place(t, r, "res001.txt", []byte("keep me"), Upload{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Location.Kind() != object.KindBlobCDN {
		t.Fatalf("authoritative = %s", p.Location.Kind())
	}
	if len(p.Residual) != 1 || p.Residual[0] != (object.Local{Path: "res001.txt"}) {
		t.Errorf("residual = %#v", p.Residual)
	}
	if len(p.Locations()) != 2 {
		t.Errorf("locations = %v", p.Locations())
	}
}

func TestReclaimContinuesPastFailures(t *testing.T) {
	f, set := newFakes(object.KindLocal, object.KindChunked, object.KindBucket)
	ctx := context.Background()
	for _, b := range []*physicaltest.Fake{f.local, f.chunked, f.bucket} {
		if _, err := b.Store(ctx, "k", strings.NewReader("v"), physical.Meta{}); err != nil {
			t.Fatal(err)
		}
	}
	f.chunked.DeleteErr = errors.New("boom")

	left := Reclaim(ctx, set, "k", []object.Location{
		object.Local{Path: "k"},
		object.Chunked{FileID: "fake-k"},
		object.Bucket{Bucket: "fake", Key: "k"},
		object.Blob{URL: "https://blob.test/k", Pathname: "k"},
	})
	if len(left) != 2 {
		t.Errorf("left = %v, want chunked and unconfigured blob", left)
	}
	if f.local.Has("k") || f.bucket.Has("k") {
		t.Error("reclaim stopped at first failure")
	}
}
