package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore"

	_ "github.com/gezibash/drop/internal/metastore/physical/memory"
	_ "github.com/gezibash/drop/internal/objectstore/physical/fs"
)

func testViper(t *testing.T) (*viper.Viper, string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	v := viper.New()
	v.Set("data_dir", dir)
	v.Set("metadata.backend", "memory")
	return v, dir
}

func TestOpenRuntime(t *testing.T) {
	v, dir := testViper(t)
	ctx := context.Background()

	rt, err := Open(ctx, v)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()

	if !rt.Backends.Has(object.KindLocal) {
		t.Fatal("local backend not opened")
	}
	o, err := rt.Service.Upload(ctx, &objectstore.UploadRequest{
		Body: strings.NewReader("hello"),
		Size: 5,
		Name: "hello.txt",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "uploads")); err != nil {
		t.Errorf("uploads dir not under data dir: %v", err)
	}
	got, err := rt.Service.Lookup(ctx, o.DeletionKey)
	if err != nil || got.ID != o.ID {
		t.Errorf("Lookup = %v, %v", got, err)
	}
}

func TestOpenLogsToFile(t *testing.T) {
	v, dir := testViper(t)
	rt, err := Open(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	slog.Info("cli log line")
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "log", "cli.log"))
	if err != nil {
		t.Fatalf("read cli.log: %v", err)
	}
	if !strings.Contains(string(data), "cli log line") {
		t.Errorf("cli.log = %s", data)
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	v, _ := testViper(t)
	v.Set("limits.max_upload_size", "lots")
	if _, err := Open(context.Background(), v); err == nil {
		t.Fatal("expected config error")
	}

	v, _ = testViper(t)
	v.Set("metadata.backend", "tape")
	if _, err := Open(context.Background(), v); err == nil {
		t.Fatal("expected unknown metadata backend error")
	}
}

func TestRunCommand(t *testing.T) {
	v, _ := testViper(t)

	if err := RunCommand(context.Background(), CommandConfig{Viper: v}); err == nil {
		t.Error("expected error without Run")
	}
	if err := RunCommand(context.Background(), CommandConfig{Run: func(context.Context, *Runtime, *Output) error { return nil }}); err == nil {
		t.Error("expected error without Viper")
	}

	sentinel := errors.New("ran")
	err := RunCommand(context.Background(), CommandConfig{
		Viper: v,
		Run: func(ctx context.Context, rt *Runtime, out *Output) error {
			if rt.Service == nil || out.Format() != FormatText {
				t.Error("runtime not initialised")
			}
			if _, err := rt.Service.Lookup(ctx, "nope00"); !errors.Is(err, objectstore.ErrNotFound) {
				t.Errorf("Lookup = %v", err)
			}
			return sentinel
		},
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("RunCommand = %v", err)
	}
}
