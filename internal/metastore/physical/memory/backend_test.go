package memory

import (
	"context"
	"testing"

	"github.com/gezibash/drop/internal/metastore/physical"
	"github.com/gezibash/drop/internal/metastore/physical/kvtest"
)

func TestConformance(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatal(err)
	}
	kvtest.Run(t, b)
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{"memory", "badger"} {
		if !physical.IsRegistered(name) {
			t.Errorf("%s not registered", name)
		}
	}
	b, err := physical.New(context.Background(), "memory", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
}
