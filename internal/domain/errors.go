package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStructural matches every error caused by a malformed hierarchy.
	ErrStructural = errors.New("invalid hierarchy")
	// ErrDepth matches errors raised when a node lies deeper than allowed.
	ErrDepth = errors.New("hierarchy too deep")
	// ErrExtraction matches records that cannot be turned into nodes.
	ErrExtraction = errors.New("invalid hierarchy record")
)

// MissingKeyError reports a record without a value for the child key field.
type MissingKeyError struct {
	Row   int
	Field string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("record %d has no value for child field %q", e.Row+1, e.Field)
}

func (e *MissingKeyError) Is(target error) bool { return target == ErrExtraction }

// MissingRootError reports that no node lacks a parent.
type MissingRootError struct{}

func (e *MissingRootError) Error() string {
	return "hierarchy has no root: every node names a parent"
}

func (e *MissingRootError) Is(target error) bool { return target == ErrStructural }

// MultipleRootsError reports more than one node without a parent.
type MultipleRootsError struct {
	IDs []string
}

func (e *MultipleRootsError) Error() string {
	return fmt.Sprintf("hierarchy has %d roots (%s), expected exactly one", len(e.IDs), strings.Join(e.IDs, ", "))
}

func (e *MultipleRootsError) Is(target error) bool { return target == ErrStructural }

// DanglingParentError reports a parent id that no node defines.
type DanglingParentError struct {
	ChildID  string
	ParentID string
}

func (e *DanglingParentError) Error() string {
	return fmt.Sprintf("node %q references parent %q which does not exist", e.ChildID, e.ParentID)
}

func (e *DanglingParentError) Is(target error) bool { return target == ErrStructural }

// ConflictingParentError reports a node defined twice with different parents.
type ConflictingParentError struct {
	ID     string
	First  string
	Second string
}

func (e *ConflictingParentError) Error() string {
	return fmt.Sprintf("node %q has conflicting parents %q and %q", e.ID, e.First, e.Second)
}

func (e *ConflictingParentError) Is(target error) bool { return target == ErrStructural }

// CycleDetectedError reports nodes that are their own ancestors. Path lists
// the cycle members in ascent order.
type CycleDetectedError struct {
	Path []string
}

func (e *CycleDetectedError) Error() string {
	if len(e.Path) == 0 {
		return "cycle detected in hierarchy"
	}
	return fmt.Sprintf("cycle detected in hierarchy: %s -> %s", strings.Join(e.Path, " -> "), e.Path[0])
}

func (e *CycleDetectedError) Is(target error) bool { return target == ErrStructural }

// MaxDepthExceededError reports the first node found deeper than allowed.
type MaxDepthExceededError struct {
	ID       string
	Level    int
	MaxDepth int
}

func (e *MaxDepthExceededError) Error() string {
	return fmt.Sprintf("node %q is at level %d, deeper than the maximum depth %d", e.ID, e.Level, e.MaxDepth)
}

func (e *MaxDepthExceededError) Is(target error) bool { return target == ErrDepth }

// ErrorNodeIDs returns the node ids named by a hierarchy error, if any.
func ErrorNodeIDs(err error) []string {
	var (
		multiple    *MultipleRootsError
		dangling    *DanglingParentError
		conflicting *ConflictingParentError
		cycle       *CycleDetectedError
		depth       *MaxDepthExceededError
	)
	switch {
	case errors.As(err, &multiple):
		return append([]string(nil), multiple.IDs...)
	case errors.As(err, &dangling):
		return []string{dangling.ChildID, dangling.ParentID}
	case errors.As(err, &conflicting):
		return []string{conflicting.ID}
	case errors.As(err, &cycle):
		return append([]string(nil), cycle.Path...)
	case errors.As(err, &depth):
		return []string{depth.ID}
	default:
		return nil
	}
}
