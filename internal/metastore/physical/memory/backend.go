// Package memory provides an in-memory metadata backend for tests and
// throwaway deployments. Nothing survives a restart.
package memory

import (
	"context"

	"github.com/gezibash/drop/internal/metastore/physical"
	"github.com/gezibash/drop/internal/metastore/physical/badger"
)

func init() {
	physical.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{}
}

// NewFactory creates a new in-memory backend.
func NewFactory(_ context.Context, _ map[string]string) (physical.Backend, error) {
	return New()
}

// New creates a new in-memory backend.
func New() (physical.Backend, error) {
	return badger.NewInMemory()
}
