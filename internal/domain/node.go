package domain

// Record is one raw input record keyed by field name. A nil value means the
// cell was empty.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	cloned := make(Record, len(r))
	for key, value := range r {
		cloned[key] = value
	}
	return cloned
}

// Node is one hierarchy entity extracted from a record.
type Node struct {
	// ID is the child key rendered as a string.
	ID string
	// ParentID is only meaningful when HasParent is set.
	ParentID  string
	HasParent bool
	// Attributes holds every field of the source record, keys included.
	Attributes Record
	// Seq is the zero based position of the record in the input.
	Seq int
}

// IsRoot reports whether the node names no parent.
func (n Node) IsRoot() bool {
	return !n.HasParent
}

// LevelInfo carries the traversal annotations for one node.
type LevelInfo struct {
	Level  int  `json:"level"`
	Top    bool `json:"top"`
	Bottom bool `json:"bottom"`
}

// Row is one flattened output record. Values holds an entry for every field
// of the output schema.
type Row struct {
	NodeID string
	Values map[string]any
}

// Value returns the value written under name.
func (r Row) Value(name string) any {
	return r.Values[name]
}

// Ordered returns the row values following the given field order.
func (r Row) Ordered(names []string) []any {
	values := make([]any, len(names))
	for i, name := range names {
		values[i] = r.Values[name]
	}
	return values
}
