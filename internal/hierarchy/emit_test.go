package hierarchy

import (
	"testing"

	"github.com/rpattn/hierflat/internal/domain"

	"github.com/stretchr/testify/require"
)

func productSchema() domain.Schema {
	return domain.NewSchema("bom", []domain.Field{
		{Name: "Parent", Type: domain.FieldTypeString, Nullable: true},
		{Name: "Child", Type: domain.FieldTypeString},
		{Name: "ParentProduct", Type: domain.FieldTypeString},
		{Name: "Product", Type: domain.FieldTypeString},
		{Name: "Supplier", Type: domain.FieldTypeString},
		{Name: "Cost", Type: domain.FieldTypeFloat, Nullable: true},
	})
}

func TestDeriveSchema_WidensOnlyNonMappedFields(t *testing.T) {
	cfg := domain.FlattenConfig{
		ParentField:        "Parent",
		ChildField:         "Child",
		ParentChildMapping: map[string]string{"ParentProduct": "Product"},
	}

	schema, err := DeriveSchema(productSchema(), cfg)
	require.NoError(t, err)

	require.Equal(t, []string{"Parent", "Child", "ParentProduct", "Product", "Supplier", "Cost", "Level", "Top", "Bottom"}, schema.Names())

	nullable := map[string]bool{}
	for _, field := range schema.Fields {
		nullable[field.Name] = field.Nullable
	}
	require.True(t, nullable["Parent"], "key field keeps its own nullability")
	require.False(t, nullable["Child"])
	require.False(t, nullable["ParentProduct"])
	require.False(t, nullable["Product"])
	require.True(t, nullable["Supplier"], "non-mapped field is widened")
	require.True(t, nullable["Cost"])
	require.False(t, nullable["Level"])

	level, _ := schema.Field("Level")
	require.Equal(t, domain.FieldTypeInteger, level.Type)
	top, _ := schema.Field("Top")
	require.Equal(t, domain.FieldTypeString, top.Type)
}

func TestDeriveSchema_DoesNotAlterInput(t *testing.T) {
	input := productSchema()
	_, err := DeriveSchema(input, domain.FlattenConfig{ParentField: "Parent", ChildField: "Child"})
	require.NoError(t, err)

	supplier, _ := input.Field("Supplier")
	require.False(t, supplier.Nullable)
	require.Len(t, input.Fields, 6)
}

func TestDeriveSchema_CustomColumnNames(t *testing.T) {
	schema, err := DeriveSchema(productSchema(), domain.FlattenConfig{
		ParentField: "Parent",
		ChildField:  "Child",
		LevelField:  "depth",
		TopField:    "is_root",
		BottomField: "is_leaf",
	})
	require.NoError(t, err)

	names := schema.Names()
	require.Equal(t, []string{"depth", "is_root", "is_leaf"}, names[len(names)-3:])
}

func TestDeriveSchema_RequiresInputFields(t *testing.T) {
	_, err := DeriveSchema(domain.Schema{}, domain.FlattenConfig{ParentField: "p", ChildField: "c"})
	require.ErrorIs(t, err, ErrEmptySchema)
}

func TestDeriveSchema_RejectsCollidingColumns(t *testing.T) {
	_, err := DeriveSchema(productSchema(), domain.FlattenConfig{
		ParentField: "Parent",
		ChildField:  "Child",
		LevelField:  "Cost",
	})
	require.ErrorIs(t, err, ErrOutputFieldCollision)

	_, err = DeriveSchema(productSchema(), domain.FlattenConfig{
		ParentField: "Parent",
		ChildField:  "Child",
		TopField:    "Flag",
		BottomField: "Flag",
	})
	require.ErrorIs(t, err, ErrOutputFieldCollision)
}

func TestDeriveSchema_RejectsUnknownMappingTarget(t *testing.T) {
	_, err := DeriveSchema(productSchema(), domain.FlattenConfig{
		ParentField:        "Parent",
		ChildField:         "Child",
		ParentChildMapping: map[string]string{"ParentProduct": "Nope"},
	})
	require.ErrorIs(t, err, ErrMappingTarget)
}

func TestEmitter_EmitRow(t *testing.T) {
	cfg := domain.FlattenConfig{
		ParentField:        "Parent",
		ChildField:         "Child",
		ParentChildMapping: map[string]string{"ParentProduct": "Product"},
		TrueValue:          "yes",
		FalseValue:         "no",
	}
	emitter, err := NewEmitter(productSchema(), cfg)
	require.NoError(t, err)

	node := domain.Node{
		ID:        "wheel",
		ParentID:  "bike",
		HasParent: true,
		Attributes: domain.Record{
			"Parent":        "bike",
			"Child":         "wheel",
			"ParentProduct": "Bicycle",
			"Product":       "Wheel",
			"Supplier":      "Acme",
		},
	}
	row := emitter.EmitRow(node, domain.LevelInfo{Level: 1, Bottom: true})

	require.Equal(t, "wheel", row.NodeID)
	require.Equal(t, "Bicycle", row.Value("Product"), "mapped value is written under its target name")
	require.Equal(t, "Bicycle", row.Value("ParentProduct"))
	require.Equal(t, "Acme", row.Value("Supplier"))
	require.Nil(t, row.Value("Cost"))
	require.Contains(t, row.Values, "Cost")
	require.Equal(t, 1, row.Value("Level"))
	require.Equal(t, "no", row.Value("Top"))
	require.Equal(t, "yes", row.Value("Bottom"))
	require.Len(t, row.Values, len(emitter.Schema().Fields))
}

func TestEmitter_SwapMapping(t *testing.T) {
	schema := domain.NewSchema("input", []domain.Field{
		{Name: "p", Type: domain.FieldTypeString, Nullable: true},
		{Name: "c", Type: domain.FieldTypeString},
		{Name: "left", Type: domain.FieldTypeString},
		{Name: "right", Type: domain.FieldTypeString},
	})
	emitter, err := NewEmitter(schema, domain.FlattenConfig{
		ParentField:        "p",
		ChildField:         "c",
		ParentChildMapping: map[string]string{"left": "right", "right": "left"},
	})
	require.NoError(t, err)

	row := emitter.EmitRow(domain.Node{
		ID:         "1",
		Attributes: domain.Record{"c": "1", "left": "L", "right": "R"},
	}, domain.LevelInfo{Top: true, Bottom: true})

	require.Equal(t, "R", row.Value("left"))
	require.Equal(t, "L", row.Value("right"))
	require.Equal(t, "Y", row.Value("Top"))
	require.Equal(t, "Y", row.Value("Bottom"))
	require.Equal(t, 0, row.Value("Level"))
}

func TestEmitter_SchemaIsACopy(t *testing.T) {
	emitter, err := NewEmitter(productSchema(), domain.FlattenConfig{ParentField: "Parent", ChildField: "Child"})
	require.NoError(t, err)

	schema := emitter.Schema()
	schema.Fields[0].Name = "changed"
	require.Equal(t, "Parent", emitter.Schema().Fields[0].Name)
}
