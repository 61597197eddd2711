package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCause_StripsCascadeLayers(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := &CascadeError{
		Node: "report",
		Err: &CascadeError{
			Node: "aggregate",
			Err:  &NodeExecutionError{Node: "fetch", Err: cause},
		},
	}

	root := RootCause(wrapped)

	var nodeErr *NodeExecutionError
	require.ErrorAs(t, root, &nodeErr)
	assert.Equal(t, "fetch", nodeErr.Node)
	assert.True(t, errors.Is(root, cause))
}

func TestRootCause_LeavesNodeErrorsIntact(t *testing.T) {
	timeout := &NodeTimeoutError{Node: "slow", Timeout: 200 * time.Millisecond}
	assert.Equal(t, error(timeout), RootCause(timeout))

	assert.Nil(t, RootCause(nil))
}

func TestErrorChains(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"node execution unwraps", &NodeExecutionError{Node: "a", Err: cause}, cause},
		{"edge condition unwraps", &EdgeConditionError{From: "a", To: "b", Err: cause}, cause},
		{"fallback unwraps", &FallbackError{Node: "a", Err: cause}, cause},
		{"cascade unwraps", &CascadeError{Node: "a", Err: cause}, cause},
		{"compile unwraps", &CompileError{Reason: "cycle", Err: ErrCyclicGraph}, ErrCyclicGraph},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.want))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestTypeMismatchError_Is(t *testing.T) {
	err := &TypeMismatchError{Node: "n", Wanted: "string", Actual: "int"}
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	assert.False(t, errors.Is(err, ErrCyclicGraph))
}
