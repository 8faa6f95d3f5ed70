// Package metastore persists StoredObject records. Each record is kept under
// its public id, with a secondary entry mapping the deletion key to the id.
package metastore

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/drop/internal/metastore/physical"
	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/observability"
)

const (
	prefixObject = "obj/"
	prefixKey    = "key/"
)

var (
	// ErrNotFound indicates no record exists for the id or key.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates the id or deletion key is already taken.
	ErrConflict = errors.New("record already exists")
)

// Store is the metadata store.
type Store struct {
	backend physical.Backend
	metrics *observability.Metrics
}

// New creates a Store over backend.
func New(backend physical.Backend, metrics *observability.Metrics) *Store {
	return &Store{backend: backend, metrics: metrics}
}

// Open creates the named physical backend and wraps it in a Store.
func Open(ctx context.Context, name string, config map[string]string, metrics *observability.Metrics) (*Store, error) {
	b, err := physical.New(ctx, name, config, metrics)
	if err != nil {
		return nil, err
	}
	return New(b, metrics), nil
}

// Get returns the record for id.
func (s *Store) Get(ctx context.Context, id string) (*object.Object, error) {
	data, err := s.backend.Get(ctx, prefixObject+id)
	if errors.Is(err, physical.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	o, err := object.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return o, nil
}

// GetByKey returns the record whose deletion key is key.
func (s *Store) GetByKey(ctx context.Context, key string) (*object.Object, error) {
	id, err := s.backend.Get(ctx, prefixKey+key)
	if errors.Is(err, physical.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup key: %w", err)
	}
	o, err := s.Get(ctx, string(id))
	if err != nil {
		return nil, err
	}
	// A stale index entry left behind by a partial delete.
	if o.DeletionKey != key {
		return nil, ErrNotFound
	}
	return o, nil
}

// Exists reports whether id is taken. It satisfies ident.Checker.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.backend.Exists(ctx, prefixObject+id)
}

// Save inserts o. Existing records are never overwritten.
func (s *Store) Save(ctx context.Context, o *object.Object) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "metastore.save", attribute.String("id", o.ID))
	defer func() { op.End(err) }()

	if err := o.Validate(); err != nil {
		return fmt.Errorf("save %s: %w", o.ID, err)
	}
	for _, k := range []string{prefixObject + o.ID, prefixKey + o.DeletionKey} {
		taken, err := s.backend.Exists(ctx, k)
		if err != nil {
			return fmt.Errorf("save %s: %w", o.ID, err)
		}
		if taken {
			return fmt.Errorf("save %s: %w", o.ID, ErrConflict)
		}
	}

	data, err := object.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode %s: %w", o.ID, err)
	}
	return s.backend.Put(ctx,
		physical.Entry{Key: prefixObject + o.ID, Value: data},
		physical.Entry{Key: prefixKey + o.DeletionKey, Value: []byte(o.ID)},
	)
}

// Delete removes o's record and its key index.
func (s *Store) Delete(ctx context.Context, o *object.Object) (err error) {
	op, ctx := observability.StartOperation(ctx, s.metrics, "metastore.delete", attribute.String("id", o.ID))
	defer func() { op.End(err) }()

	return s.backend.Delete(ctx, prefixObject+o.ID, prefixKey+o.DeletionKey)
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
