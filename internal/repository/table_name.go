package repository

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ParseTableName splits "table" or "schema.table" into a quoted identifier.
func ParseTableName(name string) (pgx.Identifier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	ident := make(pgx.Identifier, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
		ident[i] = part
	}
	return ident, nil
}

// schemaAndTable returns the lookup key for information_schema queries.
func schemaAndTable(ident pgx.Identifier) (string, string) {
	if len(ident) == 2 {
		return ident[0], ident[1]
	}
	return "public", ident[0]
}
