package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/gezibash/drop/internal/metastore/physical/kvtest"
	"github.com/gezibash/drop/internal/storage"
)

func TestConformance(t *testing.T) {
	dsn := os.Getenv("DROP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DROP_TEST_POSTGRES_DSN not set")
	}
	cfg := Defaults()
	cfg[KeyDSN] = dsn
	b, err := NewFactory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	ctx := context.Background()
	_ = b.Delete(ctx, "obj/a", "key/a", "obj/b")
	kvtest.Run(t, b)
}

func TestMissingDSN(t *testing.T) {
	if _, err := NewFactory(context.Background(), Defaults()); !storage.IsConfigError(err) {
		t.Fatalf("got %v, want ConfigError", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
}
