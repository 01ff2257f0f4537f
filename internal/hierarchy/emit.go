package hierarchy

import (
	"errors"
	"fmt"

	"github.com/rpattn/hierflat/internal/domain"
)

var (
	// ErrEmptySchema is returned when no input schema is supplied.
	ErrEmptySchema = errors.New("input schema is required")
	// ErrOutputFieldCollision is returned when a level/top/bottom column
	// would shadow another column.
	ErrOutputFieldCollision = errors.New("output field name collision")
	// ErrMappingTarget is returned when a mapped input field is renamed to a
	// field the input schema does not declare.
	ErrMappingTarget = errors.New("mapping target is not an input field")
)

// DeriveSchema builds the output schema: every input field (non-mapped ones
// widened to nullable) followed by the level, top and bottom columns.
func DeriveSchema(input domain.Schema, cfg domain.FlattenConfig) (domain.Schema, error) {
	if len(input.Fields) == 0 {
		return domain.Schema{}, ErrEmptySchema
	}
	cfg = cfg.WithDefaults()
	remapper := NewRemapper(cfg.ParentChildMapping, cfg.ParentField, cfg.ChildField)

	for _, source := range remapper.MappedSources(input) {
		target := remapper.ResolveOutputName(source)
		if !input.Has(target) {
			return domain.Schema{}, fmt.Errorf("%w: %s=%s", ErrMappingTarget, source, target)
		}
	}

	nonMapped := make(map[string]struct{})
	for _, name := range remapper.NonMappedFields(input) {
		nonMapped[name] = struct{}{}
	}

	fields := make([]domain.Field, 0, len(input.Fields)+3)
	for _, field := range input.Fields {
		if _, ok := nonMapped[field.Name]; ok {
			field = field.AsNullable()
		}
		fields = append(fields, field)
	}

	seen := make(map[string]struct{}, len(fields)+3)
	for _, field := range fields {
		seen[field.Name] = struct{}{}
	}
	added := []domain.Field{
		{Name: cfg.LevelField, Type: domain.FieldTypeInteger},
		{Name: cfg.TopField, Type: domain.FieldTypeString},
		{Name: cfg.BottomField, Type: domain.FieldTypeString},
	}
	for _, field := range added {
		if _, exists := seen[field.Name]; exists {
			return domain.Schema{}, fmt.Errorf("%w: %q", ErrOutputFieldCollision, field.Name)
		}
		seen[field.Name] = struct{}{}
		fields = append(fields, field)
	}

	name := input.Name
	if name == "" {
		name = "record"
	}
	return domain.NewSchema(name, fields), nil
}

// Emitter turns annotated nodes into output rows. It is read-only after
// construction and safe for concurrent use.
type Emitter struct {
	cfg        domain.FlattenConfig
	remapper   *Remapper
	output     domain.Schema
	inputNames []string
	sources    []string
}

// NewEmitter derives the output schema for input and prepares row emission.
func NewEmitter(input domain.Schema, cfg domain.FlattenConfig) (*Emitter, error) {
	cfg = cfg.WithDefaults()
	output, err := DeriveSchema(input, cfg)
	if err != nil {
		return nil, err
	}
	remapper := NewRemapper(cfg.ParentChildMapping, cfg.ParentField, cfg.ChildField)
	return &Emitter{
		cfg:        cfg,
		remapper:   remapper,
		output:     output,
		inputNames: input.Names(),
		sources:    remapper.MappedSources(input),
	}, nil
}

// Schema returns the derived output schema.
func (e *Emitter) Schema() domain.Schema {
	return domain.NewSchema(e.output.Name, e.output.Fields)
}

// EmitRow builds the row for one node. Each attribute is first written under
// its own name; mapped attributes are then written under their resolved
// name, so a=b;b=a swaps the two columns.
func (e *Emitter) EmitRow(node domain.Node, info domain.LevelInfo) domain.Row {
	values := make(map[string]any, len(e.output.Fields))
	for _, name := range e.inputNames {
		values[name] = node.Attributes[name]
	}
	for _, source := range e.sources {
		values[e.remapper.ResolveOutputName(source)] = node.Attributes[source]
	}
	values[e.cfg.LevelField] = info.Level
	values[e.cfg.TopField] = e.cfg.FlagValue(info.Top)
	values[e.cfg.BottomField] = e.cfg.FlagValue(info.Bottom)
	return domain.Row{NodeID: node.ID, Values: values}
}
