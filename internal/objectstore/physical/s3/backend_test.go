package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/objectstore/physical/physicaltest"
	"github.com/gezibash/drop/internal/storage"
)

// mockS3Server creates an httptest server that emulates a minimal path-style S3 API.
func mockS3Server(store *mockStore) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Path format: /bucket/key or /bucket (HeadBucket)
		parts := strings.SplitN(r.URL.Path, "/", 3)

		if len(parts) < 3 || parts[2] == "" {
			if store.denyBucket {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		key := parts[2]
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			store.put(key, data, r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := store.get(key)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code></Error>`))
				return
			}
			_, _ = w.Write(data)
		case http.MethodDelete:
			store.del(key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

type mockStore struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	types      map[string]string
	denyBucket bool
}

func newMockStore() *mockStore {
	return &mockStore{blobs: make(map[string][]byte), types: make(map[string]string)}
}

func (m *mockStore) put(key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	m.types[key] = contentType
}

func (m *mockStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.blobs[key]
	return d, ok
}

func (m *mockStore) del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
}

func testConfig(url string) map[string]string {
	return map[string]string{
		KeyBucket:          "test-bucket",
		KeyEndpoint:        url,
		KeyAccessKeyID:     "test",
		KeySecretAccessKey: "test",
	}
}

func newTestBackend(t *testing.T) (*Backend, *mockStore) {
	t.Helper()
	store := newMockStore()
	srv := mockS3Server(store)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg[KeySpoolDir] = t.TempDir()
	b, err := NewFactory(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return b.(*Backend), store
}

func TestConformance(t *testing.T) {
	b, _ := newTestBackend(t)
	physicaltest.Run(t, b)
}

func TestStoreKeyAndContentType(t *testing.T) {
	b, store := newTestBackend(t)
	b.prefix = "uploads/"

	loc, err := b.Store(context.Background(), "aB3dE9.png", strings.NewReader("png-bytes"), physical.Meta{ContentType: "image/png", Size: -1})
	if err != nil {
		t.Fatal(err)
	}
	if loc != (object.Bucket{Bucket: "test-bucket", Key: "uploads/aB3dE9.png"}) {
		t.Fatalf("location = %#v", loc)
	}
	data, ok := store.get("uploads/aB3dE9.png")
	if !ok || string(data) != "png-bytes" {
		t.Fatalf("stored %q, %v", data, ok)
	}
	if store.types["uploads/aB3dE9.png"] != "image/png" {
		t.Errorf("content type = %q", store.types["uploads/aB3dE9.png"])
	}
}

func TestRetrieveNotFound(t *testing.T) {
	b, _ := newTestBackend(t)
	_, err := b.Retrieve(context.Background(), object.Bucket{Bucket: "test-bucket", Key: "missing"})
	if !errors.Is(err, physical.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMissingConfig(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	for _, drop := range []string{KeyEndpoint, KeyBucket, KeyAccessKeyID, KeySecretAccessKey} {
		t.Run(drop, func(t *testing.T) {
			cfg := testConfig(srv.URL)
			delete(cfg, drop)
			_, err := NewFactory(context.Background(), cfg)
			if !storage.IsConfigError(err) {
				t.Fatalf("got %v, want ConfigError", err)
			}
			if !strings.Contains(err.Error(), drop) {
				t.Errorf("error %q does not name %s", err, drop)
			}
		})
	}
	if calls != 0 {
		t.Errorf("endpoint called %d times with incomplete config", calls)
	}
}

func TestBucketNotAccessible(t *testing.T) {
	store := newMockStore()
	store.denyBucket = true
	srv := mockS3Server(store)
	defer srv.Close()

	_, err := NewFactory(context.Background(), testConfig(srv.URL))
	if !storage.IsConfigError(err) {
		t.Fatalf("got %v, want ConfigError", err)
	}

	cfg := testConfig(srv.URL)
	cfg[KeyVerifyBucket] = "false"
	if _, err := NewFactory(context.Background(), cfg); err != nil {
		t.Fatalf("verify_bucket=false: %v", err)
	}
}

func TestForeignLocation(t *testing.T) {
	b, _ := newTestBackend(t)
	if _, err := b.Retrieve(context.Background(), object.Local{Path: "x"}); err == nil {
		t.Fatal("expected error for local location")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&types.NoSuchKey{Message: aws.String("nope")}) {
		t.Error("NoSuchKey not detected")
	}
	if !isNotFound(&types.NotFound{}) {
		t.Error("NotFound not detected")
	}
	if isNotFound(errors.New("other")) {
		t.Error("plain error detected as not found")
	}
}
