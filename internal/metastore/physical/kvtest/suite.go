// Package kvtest provides a conformance suite for metastore backends.
package kvtest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gezibash/drop/internal/metastore/physical"
)

// Run exercises b against the physical.Backend contract. It closes b at the end.
func Run(t *testing.T, b physical.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		if err := b.Put(ctx, physical.Entry{Key: "obj/a", Value: []byte("1")}, physical.Entry{Key: "key/a", Value: []byte("a")}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := b.Get(ctx, "obj/a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, []byte("1")) {
			t.Errorf("Get = %q, want %q", got, "1")
		}
		got, err = b.Get(ctx, "key/a")
		if err != nil || string(got) != "a" {
			t.Errorf("Get(key/a) = %q, %v", got, err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if err := b.Put(ctx, physical.Entry{Key: "obj/b", Value: []byte("old")}); err != nil {
			t.Fatal(err)
		}
		if err := b.Put(ctx, physical.Entry{Key: "obj/b", Value: []byte("new")}); err != nil {
			t.Fatal(err)
		}
		got, err := b.Get(ctx, "obj/b")
		if err != nil || string(got) != "new" {
			t.Errorf("Get = %q, %v", got, err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := b.Get(ctx, "obj/missing"); !errors.Is(err, physical.ErrNotFound) {
			t.Errorf("Get missing = %v, want ErrNotFound", err)
		}
		ok, err := b.Exists(ctx, "obj/missing")
		if err != nil || ok {
			t.Errorf("Exists missing = %v, %v", ok, err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := b.Exists(ctx, "obj/a")
		if err != nil || !ok {
			t.Errorf("Exists = %v, %v", ok, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := b.Delete(ctx, "obj/a", "key/a", "never/existed"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		for _, k := range []string{"obj/a", "key/a"} {
			if _, err := b.Get(ctx, k); !errors.Is(err, physical.ErrNotFound) {
				t.Errorf("Get(%s) after delete = %v", k, err)
			}
		}
		if err := b.Delete(ctx, "obj/a"); err != nil {
			t.Errorf("second Delete: %v", err)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		if err := b.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := b.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
		if _, err := b.Get(ctx, "obj/b"); !errors.Is(err, physical.ErrClosed) {
			t.Errorf("Get after close = %v, want ErrClosed", err)
		}
		if err := b.Put(ctx, physical.Entry{Key: "x", Value: []byte("x")}); !errors.Is(err, physical.ErrClosed) {
			t.Errorf("Put after close = %v, want ErrClosed", err)
		}
	})
}
