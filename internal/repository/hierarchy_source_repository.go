package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/hierflat/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type hierarchySourceRepository struct {
	pool *pgxpool.Pool
}

// NewHierarchySourceRepository wires a repository backed by pgxpool.
func NewHierarchySourceRepository(pool *pgxpool.Pool) HierarchySourceRepository {
	return &hierarchySourceRepository{pool: pool}
}

// Load reads every row of table. The schema follows the column order and
// nullability recorded in information_schema.
func (r *hierarchySourceRepository) Load(ctx context.Context, table string) (domain.Schema, []domain.Record, error) {
	if r.pool == nil {
		return domain.Schema{}, nil, fmt.Errorf("hierarchy source repository not initialized")
	}
	ident, err := ParseTableName(table)
	if err != nil {
		return domain.Schema{}, nil, err
	}

	schema, err := r.describe(ctx, ident)
	if err != nil {
		return domain.Schema{}, nil, err
	}

	columns := make([]string, len(schema.Fields))
	for i, field := range schema.Fields {
		columns[i] = pgx.Identifier{field.Name}.Sanitize()
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), ident.Sanitize()))
	if err != nil {
		return domain.Schema{}, nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return domain.Schema{}, nil, fmt.Errorf("failed to read row %d of %s: %w", len(records)+1, table, err)
		}
		record := make(domain.Record, len(values))
		for i, value := range values {
			record[schema.Fields[i].Name] = normalizeValue(value)
		}
		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return domain.Schema{}, nil, fmt.Errorf("failed to iterate %s: %w", table, rowsErr)
	}

	return schema, records, nil
}

func (r *hierarchySourceRepository) describe(ctx context.Context, ident pgx.Identifier) (domain.Schema, error) {
	schemaName, tableName := schemaAndTable(ident)
	rows, err := r.pool.Query(
		ctx,
		`SELECT column_name, data_type, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		schemaName,
		tableName,
	)
	if err != nil {
		return domain.Schema{}, fmt.Errorf("failed to describe %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return domain.Schema{}, fmt.Errorf("failed to scan column of %s.%s: %w", schemaName, tableName, err)
		}
		fields = append(fields, domain.Field{
			Name:     name,
			Type:     FieldTypeOf(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return domain.Schema{}, fmt.Errorf("failed to describe %s.%s: %w", schemaName, tableName, err)
	}
	if len(fields) == 0 {
		return domain.Schema{}, fmt.Errorf("table %s.%s not found or has no columns", schemaName, tableName)
	}
	return domain.NewSchema(tableName, fields), nil
}

// FieldTypeOf maps an information_schema data_type onto a field type.
func FieldTypeOf(dataType string) domain.FieldType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint":
		return domain.FieldTypeInteger
	case "real", "double precision", "numeric":
		return domain.FieldTypeFloat
	case "boolean":
		return domain.FieldTypeBoolean
	case "date", "timestamp without time zone", "timestamp with time zone":
		return domain.FieldTypeTimestamp
	case "json", "jsonb":
		return domain.FieldTypeJSON
	default:
		return domain.FieldTypeString
	}
}

// normalizeValue converts pgx decoded values into the types the rest of
// the module works with.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case float32:
		return float64(v)
	case pgtype.Numeric:
		if !v.Valid {
			return nil
		}
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(v).String()
	default:
		return v
	}
}
