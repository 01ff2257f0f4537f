package domain

import "sort"

// Default option values applied when a flatten option is left blank.
const (
	DefaultLevelField  = "Level"
	DefaultTopField    = "Top"
	DefaultBottomField = "Bottom"
	DefaultTrueValue   = "Y"
	DefaultFalseValue  = "N"
	DefaultMaxDepth    = 50
)

// FlattenConfig is the validated, typed configuration consumed by the
// flattening engine. It is built by the config package and treated as
// read-only afterwards.
type FlattenConfig struct {
	ParentField string
	ChildField  string
	// ParentChildMapping renames attribute fields: original -> target.
	ParentChildMapping map[string]string
	LevelField         string
	TopField           string
	BottomField        string
	TrueValue          string
	FalseValue         string
	MaxDepth           int
}

// WithDefaults fills every blank optional setting with its default.
func (c FlattenConfig) WithDefaults() FlattenConfig {
	if c.LevelField == "" {
		c.LevelField = DefaultLevelField
	}
	if c.TopField == "" {
		c.TopField = DefaultTopField
	}
	if c.BottomField == "" {
		c.BottomField = DefaultBottomField
	}
	if c.TrueValue == "" {
		c.TrueValue = DefaultTrueValue
	}
	if c.FalseValue == "" {
		c.FalseValue = DefaultFalseValue
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.ParentChildMapping == nil {
		c.ParentChildMapping = map[string]string{}
	}
	return c
}

// FlagValue renders a boolean with the configured literals.
func (c FlattenConfig) FlagValue(flag bool) string {
	if flag {
		return c.TrueValue
	}
	return c.FalseValue
}

// MappingKeys returns the mapped field names in sorted order.
func (c FlattenConfig) MappingKeys() []string {
	keys := make([]string, 0, len(c.ParentChildMapping))
	for key := range c.ParentChildMapping {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
