package domain

import (
	"fmt"
	"maps"
	"reflect"
)

// Inputs is a read-only view over the results produced by a node's
// parents, keyed by parent node ID. It is assembled by the scheduler
// immediately before a node's body runs and is the only channel through
// which upstream values reach a processor.
//
// Only parents that succeeded with a non-nil value appear in the view;
// a parent that succeeded with a nil value is absent. (A node with a
// skipped or failed parent never runs its body.) Processors must
// therefore treat a missing parent as a valid condition rather than an
// error.
type Inputs struct {
	// values holds the parent results. It is unexported and copied on
	// construction to maintain immutability guarantees.
	values map[string]any
}

// NewInputs creates an immutable view over the given parent results.
// The map is cloned so later mutation by the caller cannot leak into a
// running node.
func NewInputs(values map[string]any) Inputs {
	if len(values) == 0 {
		return Inputs{values: map[string]any{}}
	}
	return Inputs{values: maps.Clone(values)}
}

// EmptyInputs returns a view with no parent results. Fallback
// strategies always receive this view; parent outputs are generally
// unavailable or incoherent once a task has failed, so fallbacks must
// work from the original request and the cause alone.
func EmptyInputs() Inputs {
	return Inputs{values: map[string]any{}}
}

// Value returns the raw result of the given parent, or nil when the
// parent is absent from the view.
func (in Inputs) Value(nodeID string) any {
	return in.values[nodeID]
}

// Has reports whether the given parent contributed a value to the view.
func (in Inputs) Has(nodeID string) bool {
	_, ok := in.values[nodeID]
	return ok
}

// Len returns the number of parent results in the view.
func (in Inputs) Len() int { return len(in.values) }

// String returns a string representation of the view for debugging.
func (in Inputs) String() string {
	return fmt.Sprintf("Inputs%v", in.values)
}

// As retrieves a parent result with a runtime type check. It returns
// the zero value and no error when the parent is absent, the value when
// it conforms to T, and a TypeMismatchError when a value is present but
// of a different type.
//
// Example:
//
//	base, err := domain.As[string](inputs, "fetch")
//	if err != nil {
//	    return nil, err
//	}
func As[T any](in Inputs, nodeID string) (T, error) {
	var zero T
	value, ok := in.values[nodeID]
	if !ok {
		return zero, nil
	}

	typed, ok := value.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Node:   nodeID,
			Wanted: reflect.TypeOf((*T)(nil)).Elem().String(),
			Actual: fmt.Sprintf("%T", value),
		}
	}
	return typed, nil
}
