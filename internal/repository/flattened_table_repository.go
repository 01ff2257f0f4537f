package repository

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/rpattn/hierflat/internal/db"
	"github.com/rpattn/hierflat/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

type flattenedTableRepository struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

// NewFlattenedTableRepository wires a repository backed by pgxpool.
func NewFlattenedTableRepository(pool *pgxpool.Pool, logger logrus.FieldLogger) FlattenedTableRepository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &flattenedTableRepository{pool: pool, logger: logger}
}

func (r *flattenedTableRepository) Replace(ctx context.Context, table string, schema domain.Schema, rows iter.Seq[domain.Row]) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("flattened table repository not initialized")
	}
	ident, err := ParseTableName(table)
	if err != nil {
		return 0, err
	}
	if len(schema.Fields) == 0 {
		return 0, fmt.Errorf("schema for %s has no fields", table)
	}

	columns := schema.Names()
	var copied int64
	err = db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident.Sanitize()); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
		if _, err := tx.Exec(ctx, CreateTableSQL(ident, schema)); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}

		next, stop := iter.Pull(rows)
		defer stop()
		source := pgx.CopyFromFunc(func() ([]any, error) {
			row, ok := next()
			if !ok {
				return nil, nil
			}
			return row.Ordered(columns), nil
		})

		n, err := tx.CopyFrom(ctx, ident, columns, source)
		if err != nil {
			return fmt.Errorf("failed to copy rows into %s: %w", table, err)
		}
		copied = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

// CreateTableSQL renders the CREATE TABLE statement for schema.
func CreateTableSQL(ident pgx.Identifier, schema domain.Schema) string {
	defs := make([]string, len(schema.Fields))
	for i, field := range schema.Fields {
		def := pgx.Identifier{field.Name}.Sanitize() + " " + ColumnType(field.Type)
		if !field.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", ident.Sanitize(), strings.Join(defs, ",\n\t"))
}

// ColumnType maps a field type to its Postgres column type.
func ColumnType(fieldType domain.FieldType) string {
	switch fieldType {
	case domain.FieldTypeInteger:
		return "BIGINT"
	case domain.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case domain.FieldTypeBoolean:
		return "BOOLEAN"
	case domain.FieldTypeTimestamp:
		return "TIMESTAMPTZ"
	case domain.FieldTypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}
