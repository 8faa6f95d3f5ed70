package objectstore

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/observability"
)

// RecordRemover removes a metadata record.
type RecordRemover interface {
	Delete(ctx context.Context, o *object.Object) error
}

// Deleter removes an object's bytes from every backend that may hold them,
// then its metadata record.
type Deleter struct {
	set     *physical.Set
	records RecordRemover
	metrics *observability.Metrics
}

// NewDeleter creates a Deleter.
func NewDeleter(set *physical.Set, records RecordRemover, metrics *observability.Metrics) *Deleter {
	return &Deleter{set: set, records: records, metrics: metrics}
}

// Delete attempts every location on o, including residual copies. Backend
// failures are logged and do not stop the remaining attempts. The record is
// removed last; only a failure there is returned.
func (d *Deleter) Delete(ctx context.Context, o *object.Object) (err error) {
	op, ctx := observability.StartOperation(ctx, d.metrics, "objectstore.delete",
		attribute.String("id", o.ID),
		attribute.Int("locations", len(o.Locations())),
	)
	defer func() { op.End(err) }()

	if left := Reclaim(ctx, d.set, o.ID, o.Locations()); len(left) > 0 {
		slog.WarnContext(ctx, "object bytes left behind", "id", o.ID, "locations", len(left))
	}

	if err := d.records.Delete(ctx, o); err != nil {
		return fmt.Errorf("remove record %s: %w", o.ID, err)
	}
	return nil
}
