package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())
	assert.Empty(t, r.InvalidNodes())
}

func TestValidationResult_NodeError(t *testing.T) {
	r := &ValidationResult{}
	r.AddNodeError("Fetch", "nodes[0].type", ErrCodeUnknownNodeType, "node type not registered")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, ValidationIssue{
		Path: "nodes[0].type", Node: "Fetch", Code: ErrCodeUnknownNodeType, Message: "node type not registered",
	}, r.Errors[0])
	assert.Equal(t, "nodes[0].type: [UNKNOWN_NODE_TYPE] node type not registered", r.Errors[0].String())
}

func TestValidationResult_WarningsStayValid(t *testing.T) {
	r := &ValidationResult{}
	r.AddNodeWarning("After", "nodes[1]", ErrCodeValidation, "node is unreachable")
	r.AddWarning("nodes", ErrCodeValidation, "every entry node is disabled")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 2)
	assert.Equal(t, "After", r.Warnings[0].Node)
	assert.Empty(t, r.Warnings[1].Node)
	assert.Empty(t, r.InvalidNodes(), "warnings do not make a node invalid")
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r2 := &ValidationResult{}
	r2.AddError("connections", ErrCodeCycleDetected, "err2")
	r2.AddNodeWarning("B", "nodes[1]", ErrCodeValidation, "warn")

	r1.Merge(r2)
	r1.Merge(nil)
	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
}

func TestValidationResult_InvalidNodes(t *testing.T) {
	r := &ValidationResult{}
	r.AddNodeError("B", "nodes[1].parameters", ErrCodeValidation, "missing url")
	r.AddError("connections", ErrCodeCycleDetected, "cycle")
	r.AddNodeError("A", "nodes[0].type", ErrCodeUnknownNodeType, "unknown")
	r.AddNodeError("B", "nodes[1].parameters", ErrCodeValidation, "bad method")

	assert.Equal(t, []string{"B", "A"}, r.InvalidNodes())
}

func TestValidationResult_ToErrorSingleNode(t *testing.T) {
	r := &ValidationResult{}
	r.AddNodeError("HTTP", "nodes[1].parameters", ErrCodeValidation, "missing url")
	r.AddNodeError("HTTP", "nodes[1].parameters", ErrCodeValidation, "bad method")

	err := r.ToError()
	require.Error(t, err)

	var fe *FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeValidation, fe.Code)
	assert.Equal(t, "HTTP", fe.Node)
	assert.Contains(t, fe.Message, "2 validation errors")
	assert.Contains(t, fe.Message, "missing url")
	assert.Contains(t, fe.Message, "bad method")
	assert.Len(t, fe.Details["errors"], 2)
}

func TestValidationResult_ToErrorGraphWide(t *testing.T) {
	r := &ValidationResult{}
	r.AddNodeError("A", "nodes[0].type", ErrCodeUnknownNodeType, "unknown")
	r.AddError("connections", ErrCodeCycleDetected, "cycle through [A B]")

	var fe *FlowError
	require.True(t, errors.As(r.ToError(), &fe))
	assert.Empty(t, fe.Node, "errors span the graph, not one node")

	single := &ValidationResult{}
	single.AddError("connections", ErrCodeCycleDetected, "cycle through [A B]")
	require.True(t, errors.As(single.ToError(), &fe))
	assert.Equal(t, "connections: [CYCLE_DETECTED] cycle through [A B]", fe.Message)
	assert.Empty(t, fe.Node)
}

func TestFlowError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeNodeFailed, "boom %d", 1).WithNode("HTTP")
	assert.Equal(t, "[NODE_FAILED] node HTTP: boom 1", err.Error())

	plain := NewError(ErrCodeTimeout, "too slow")
	assert.Equal(t, "[TIMEOUT_ERROR] too slow", plain.Error())
}

func TestFlowError_UnwrapAndCodeOf(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewError(ErrCodeExecution, "request failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeExecution, CodeOf(err))
	assert.Equal(t, "", CodeOf(cause))
	assert.Equal(t, "", CodeOf(nil))
}

func TestNormalizeItems(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		items, err := NormalizeItems(nil)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("single record", func(t *testing.T) {
		items, err := NormalizeItems(Record{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, Items{{"a": 1}}, items)
	})

	t.Run("mixed list", func(t *testing.T) {
		items, err := NormalizeItems([]any{map[string]any{"a": 1}, "x"})
		require.NoError(t, err)
		assert.Equal(t, Items{{"a": 1}, {"value": "x"}}, items)
	})

	t.Run("scalar rejected", func(t *testing.T) {
		_, err := NormalizeItems(42)
		require.Error(t, err)
		assert.Equal(t, ErrCodeValidation, CodeOf(err))
	})
}

func TestConnections_Outputs(t *testing.T) {
	c := Connections{
		"Trigger": {MainPort: {{{Node: "HTTP", Type: MainPort, Index: 0}}}},
	}
	out := c.Outputs("Trigger", MainPort)
	require.Len(t, out, 1)
	assert.Equal(t, "HTTP", out[0][0].Node)
	assert.Nil(t, c.Outputs("Missing", MainPort))
	assert.Nil(t, Connections(nil).Outputs("Trigger", MainPort))
}
