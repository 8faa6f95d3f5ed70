package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gezibash/drop/internal/metastore/physical/kvtest"
	"github.com/gezibash/drop/internal/storage"
)

func TestConformance(t *testing.T) {
	addr := os.Getenv("DROP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DROP_TEST_REDIS_ADDR not set")
	}
	cfg := Defaults()
	cfg[KeyAddr] = addr
	cfg[KeyKeyPrefix] = "droptest:" + time.Now().Format("150405.000000") + ":"
	b, err := NewFactory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	kvtest.Run(t, b)
}

func TestFactoryErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]string
	}{
		{"empty addr", map[string]string{KeyAddr: ""}},
		{"bad db", map[string]string{KeyAddr: "localhost:1", KeyDB: "x"}},
		{"negative db", map[string]string{KeyAddr: "localhost:1", KeyDB: "-1"}},
		{"bad timeout", map[string]string{KeyAddr: "localhost:1", KeyDialTimeout: "soon"}},
		{"unreachable", map[string]string{KeyAddr: "127.0.0.1:1", KeyDialTimeout: "200ms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFactory(context.Background(), tt.cfg); !storage.IsConfigError(err) {
				t.Errorf("got %v, want ConfigError", err)
			}
		})
	}
}
