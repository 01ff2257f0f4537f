package hierarchy

import (
	"github.com/rpattn/hierflat/internal/domain"
)

// Remapper decides under which output name an attribute is written. The
// mapping table is copied on construction and only read afterwards, so a
// Remapper may be shared by concurrent emitters.
type Remapper struct {
	mapping     map[string]string
	targets     map[string]struct{}
	parentField string
	childField  string
}

// NewRemapper builds a remapper for the original -> target mapping table.
func NewRemapper(mapping map[string]string, parentField, childField string) *Remapper {
	r := &Remapper{
		mapping:     make(map[string]string, len(mapping)),
		targets:     make(map[string]struct{}, len(mapping)),
		parentField: parentField,
		childField:  childField,
	}
	for key, value := range mapping {
		r.mapping[key] = value
		r.targets[value] = struct{}{}
	}
	return r
}

// ResolveOutputName returns the mapped name for field, or field itself.
func (r *Remapper) ResolveOutputName(field string) string {
	if target, ok := r.mapping[field]; ok {
		return target
	}
	return field
}

// IsMapped reports whether field is a key or a value of the mapping table.
func (r *Remapper) IsMapped(field string) bool {
	if _, ok := r.mapping[field]; ok {
		return true
	}
	_, ok := r.targets[field]
	return ok
}

// IsKeyField reports whether field is the parent or child key.
func (r *Remapper) IsKeyField(field string) bool {
	return field == r.parentField || field == r.childField
}

// NonMappedFields lists, in schema order, the input fields that are neither
// key fields nor part of the mapping. Their presence depends on where a node
// sits in the hierarchy, so they become nullable in the output.
func (r *Remapper) NonMappedFields(schema domain.Schema) []string {
	var fields []string
	for _, field := range schema.Fields {
		if r.IsKeyField(field.Name) || r.IsMapped(field.Name) {
			continue
		}
		fields = append(fields, field.Name)
	}
	return fields
}

// MappedSources lists, in schema order, the input fields that are renamed.
func (r *Remapper) MappedSources(schema domain.Schema) []string {
	var fields []string
	for _, field := range schema.Fields {
		if _, ok := r.mapping[field.Name]; ok {
			fields = append(fields, field.Name)
		}
	}
	return fields
}

// NonMappedFields is the functional form of Remapper.NonMappedFields.
func NonMappedFields(schema domain.Schema, mapping map[string]string, parentField, childField string) []string {
	return NewRemapper(mapping, parentField, childField).NonMappedFields(schema)
}
