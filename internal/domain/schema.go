package domain

import (
	"fmt"
	"strings"
)

// FieldType represents the type of a field in a record schema
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
)

// ParseFieldType maps a user supplied type name onto a FieldType.
func ParseFieldType(raw string) (FieldType, error) {
	switch FieldType(strings.ToLower(strings.TrimSpace(raw))) {
	case FieldTypeString:
		return FieldTypeString, nil
	case FieldTypeInteger, "int", "long":
		return FieldTypeInteger, nil
	case FieldTypeFloat, "double":
		return FieldTypeFloat, nil
	case FieldTypeBoolean, "bool":
		return FieldTypeBoolean, nil
	case FieldTypeTimestamp:
		return FieldTypeTimestamp, nil
	case FieldTypeJSON:
		return FieldTypeJSON, nil
	default:
		return "", fmt.Errorf("unknown field type %q", raw)
	}
}

// Field is one named, typed column of a schema
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Nullable    bool      `json:"nullable"`
	Description string    `json:"description,omitempty"`
}

// AsNullable returns a copy of the field that admits nil values.
func (f Field) AsNullable() Field {
	f.Nullable = true
	return f
}

// Schema is an ordered set of named fields. Schemas are treated as values:
// the With* helpers return new schemas and never alter the receiver.
type Schema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// NewSchema creates a schema with a private copy of fields
func NewSchema(name string, fields []Field) Schema {
	return Schema{Name: name, Fields: copyFields(fields)}
}

// Field returns the named field and whether it exists.
func (s Schema) Field(name string) (Field, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// Has reports whether the schema declares name.
func (s Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, field := range s.Fields {
		names[i] = field.Name
	}
	return names
}

// WithField returns a new schema with an added/updated field
func (s Schema) WithField(field Field) Schema {
	newFields := copyFields(s.Fields)

	found := false
	for i, existing := range newFields {
		if existing.Name == field.Name {
			newFields[i] = field
			found = true
			break
		}
	}
	if !found {
		newFields = append(newFields, field)
	}

	return Schema{Name: s.Name, Fields: newFields}
}

// WithoutField returns a new schema without the specified field
func (s Schema) WithoutField(name string) Schema {
	newFields := make([]Field, 0, len(s.Fields))
	for _, field := range s.Fields {
		if field.Name != name {
			newFields = append(newFields, field)
		}
	}
	return Schema{Name: s.Name, Fields: newFields}
}

// copyFields creates a copy of the fields slice so schemas never share backing arrays
func copyFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	newFields := make([]Field, len(fields))
	copy(newFields, fields)
	return newFields
}
