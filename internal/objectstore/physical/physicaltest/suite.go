package physicaltest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/gezibash/drop/internal/objectstore/physical"
)

// Run exercises the physical.Backend contract against b. b must be empty
// and writable; Run closes it at the end.
func Run(t *testing.T, b physical.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("StoreRetrieve", func(t *testing.T) {
		data := []byte("hello world")
		loc, err := b.Store(ctx, "aB3dE9.txt", bytes.NewReader(data), physical.Meta{Name: "hello.txt", ContentType: "text/plain", Size: int64(len(data))})
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
		if loc.Kind() != b.Kind() {
			t.Fatalf("Store returned %s location from %s backend", loc.Kind(), b.Kind())
		}

		rc, err := b.Retrieve(ctx, loc)
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		defer rc.Close()
		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("Retrieve = %q, want %q", got, data)
		}
	})

	t.Run("UnknownSize", func(t *testing.T) {
		data := bytes.Repeat([]byte("x"), 70_000)
		// Hide the Len/Seek methods so backends see a plain stream.
		r := io.MultiReader(bytes.NewReader(data))
		loc, err := b.Store(ctx, "big00001.bin", r, physical.Meta{Size: -1})
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
		rc, err := b.Retrieve(ctx, loc)
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if len(got) != len(data) {
			t.Errorf("Retrieve len = %d, want %d", len(got), len(data))
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		loc, err := b.Store(ctx, "del00001.txt", strings.NewReader("bye"), physical.Meta{Size: 3})
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
		if err := b.Delete(ctx, loc); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := b.Retrieve(ctx, loc); !errors.Is(err, physical.ErrNotFound) {
			t.Errorf("Retrieve after delete: got %v, want ErrNotFound", err)
		}
		if err := b.Delete(ctx, loc); err != nil {
			t.Errorf("second Delete: %v", err)
		}
	})

	t.Run("ReadFailureLeavesNothing", func(t *testing.T) {
		boom := errors.New("client went away")
		r := io.MultiReader(strings.NewReader("partial"), errReader{boom})
		loc, err := b.Store(ctx, "part0001.txt", r, physical.Meta{Size: -1})
		if err == nil {
			_ = b.Delete(ctx, loc)
			t.Fatal("Store succeeded on a failing reader")
		}
	})

	t.Run("Closed", func(t *testing.T) {
		if err := b.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		_, err := b.Store(ctx, "closed01.txt", strings.NewReader("x"), physical.Meta{Size: 1})
		if !errors.Is(err, physical.ErrClosed) {
			t.Errorf("Store after close: got %v, want ErrClosed", err)
		}
	})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
