package physical

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/observability"
	"github.com/gezibash/drop/internal/storage"
)

// Factory creates a backend from a configuration map.
type Factory func(ctx context.Context, config map[string]string) (Backend, error)

// DefaultsFunc returns the default configuration for a backend.
type DefaultsFunc func() map[string]string

type backendEntry struct {
	Factory  Factory
	Defaults DefaultsFunc
}

var (
	backends   = make(map[object.Kind]backendEntry)
	backendsMu sync.RWMutex
)

// Register registers a backend factory for kind.
// Panics if kind is already registered.
func Register(kind object.Kind, factory Factory, defaults DefaultsFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, exists := backends[kind]; exists {
		panic(fmt.Sprintf("object backend %q already registered", kind))
	}
	backends[kind] = backendEntry{Factory: factory, Defaults: defaults}
}

// GetDefaults returns the default configuration for a backend.
func GetDefaults(kind object.Kind) map[string]string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	entry, ok := backends[kind]
	if !ok || entry.Defaults == nil {
		return nil
	}
	return entry.Defaults()
}

// ListBackends returns all registered kinds, sorted.
func ListBackends() []object.Kind {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	kinds := make([]object.Kind, 0, len(backends))
	for k := range backends {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// IsRegistered reports whether a factory exists for kind.
func IsRegistered(kind object.Kind) bool {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	_, ok := backends[kind]
	return ok
}

// New creates a backend of kind with config merged over its defaults.
func New(ctx context.Context, kind object.Kind, config map[string]string, metrics *observability.Metrics) (_ Backend, err error) {
	op, ctx := observability.StartOperation(ctx, metrics, "objectstore.physical.new",
		attribute.String("backend", string(kind)))
	defer func() { op.End(err) }()

	backendsMu.RLock()
	entry, ok := backends[kind]
	backendsMu.RUnlock()

	if !ok {
		return nil, storage.NewConfigError(string(kind), "", fmt.Sprintf("unknown object backend (available: %v)", ListBackends()))
	}

	var defaults map[string]string
	if entry.Defaults != nil {
		defaults = entry.Defaults()
	}

	backend, err := entry.Factory(ctx, storage.MergeConfig(defaults, config))
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "object backend ready", "backend", kind)
	return backend, nil
}
