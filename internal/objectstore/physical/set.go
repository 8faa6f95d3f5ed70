package physical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/observability"
	"github.com/gezibash/drop/internal/storage"
)

// Set holds the live backend for each kind, plus the reason any configured
// kind could not be opened.
type Set struct {
	mu          sync.RWMutex
	backends    map[object.Kind]Backend
	unavailable map[object.Kind]error
}

// NewSet returns a Set over the given backends.
func NewSet(backends ...Backend) *Set {
	s := &Set{
		backends:    make(map[object.Kind]Backend, len(backends)),
		unavailable: make(map[object.Kind]error),
	}
	for _, b := range backends {
		s.backends[b.Kind()] = b
	}
	return s
}

// Open creates one backend per entry in configs. A backend whose factory
// fails is recorded as unavailable rather than failing the whole set, so a
// missing CDN token or bucket credential only disables that backend.
func Open(ctx context.Context, configs map[object.Kind]map[string]string, metrics *observability.Metrics) *Set {
	s := NewSet()
	for _, kind := range object.Kinds {
		cfg, ok := configs[kind]
		if !ok {
			continue
		}
		b, err := New(ctx, kind, cfg, metrics)
		if err != nil {
			slog.WarnContext(ctx, "object backend unavailable", "backend", kind, "error", err)
			s.unavailable[kind] = err
			continue
		}
		s.backends[kind] = b
	}
	return s
}

// Add installs b, replacing any backend of the same kind.
func (s *Set) Add(b Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends[b.Kind()] = b
	delete(s.unavailable, b.Kind())
}

// Get returns the backend for kind. A kind that is not configured, or whose
// configuration failed, yields a *storage.ConfigError.
func (s *Set) Get(kind object.Kind) (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.backends[kind]; ok {
		return b, nil
	}
	if err, ok := s.unavailable[kind]; ok {
		return nil, storage.NewConfigErrorWithCause(string(kind), "", "backend unavailable", err)
	}
	return nil, storage.NewConfigError(string(kind), "", "backend not configured")
}

// Has reports whether kind has a live backend.
func (s *Set) Has(kind object.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.backends[kind]
	return ok
}

// Writable reports whether kind has a live backend that accepts writes.
func (s *Set) Writable(kind object.Kind) bool {
	b, err := s.Get(kind)
	return err == nil && CanStore(b)
}

// Kinds returns the kinds with live backends, in precedence order.
func (s *Set) Kinds() []object.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []object.Kind
	for _, k := range object.Kinds {
		if _, ok := s.backends[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Unavailable returns the configuration error for each kind that failed to open.
func (s *Set) Unavailable() map[object.Kind]error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.unavailable)
}

// Close closes every backend.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for k, b := range s.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
