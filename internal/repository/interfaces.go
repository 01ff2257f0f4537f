package repository

import (
	"context"
	"iter"

	"github.com/rpattn/hierflat/internal/domain"
)

// FlattenRunRepository records the outcome of flatten runs.
type FlattenRunRepository interface {
	Record(ctx context.Context, run domain.FlattenRun) error
	List(ctx context.Context, limit int, offset int) ([]domain.FlattenRun, error)
}

// HierarchySourceRepository reads parent-child records from a table.
type HierarchySourceRepository interface {
	Load(ctx context.Context, table string) (domain.Schema, []domain.Record, error)
}

// FlattenedTableRepository writes flattened rows to a table.
type FlattenedTableRepository interface {
	// Replace drops and recreates table from schema, then loads rows. It
	// returns the number of rows copied.
	Replace(ctx context.Context, table string, schema domain.Schema, rows iter.Seq[domain.Row]) (int64, error)
}
