package nodes

import (
	"context"
	"testing"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/require"
)

func newInvocation(node *schema.Node, items schema.Items) *Invocation {
	return NewInvocation(node, map[int]schema.Items{0: items}, nil, nil, nil)
}

func newInvocationWithScope(node *schema.Node, items schema.Items, scope *expressions.OutputScope) *Invocation {
	ev := expressions.NewEvaluator(nil, scope, nil)
	return NewInvocation(node, map[int]schema.Items{0: items}, ev, nil, nil)
}

// runSingle executes nt and returns its first output port.
func runSingle(t *testing.T, nt NodeType, ec ExecuteContext) schema.Items {
	t.Helper()
	out, err := nt.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	return out[0]
}
