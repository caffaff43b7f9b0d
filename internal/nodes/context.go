package nodes

import (
	"context"
	"log/slog"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Invocation is the ExecuteContext handed to a node type by the executor.
type Invocation struct {
	node      *schema.Node
	input     map[int]schema.Items
	evaluator *expressions.Evaluator
	seed      schema.Items
	logger    *slog.Logger
}

// NewInvocation binds a node to its input for one execution. A nil evaluator
// uses a default one with an empty nodes binding.
func NewInvocation(node *schema.Node, input map[int]schema.Items, ev *expressions.Evaluator, seed schema.Items, logger *slog.Logger) *Invocation {
	if logger == nil {
		logger = slog.Default()
	}
	if ev == nil {
		ev = expressions.NewEvaluator(nil, nil, logger)
	}
	if input == nil {
		input = map[int]schema.Items{}
	}
	return &Invocation{node: node, input: input, evaluator: ev, seed: seed, logger: logger}
}

func (inv *Invocation) Node() *schema.Node { return inv.node }

func (inv *Invocation) InputData(port int) schema.Items {
	items, ok := inv.input[port]
	if !ok {
		return schema.Items{}
	}
	return items
}

func (inv *Invocation) NodeParameter(name string, _ int, fallback any) any {
	if inv.node == nil || inv.node.Parameters == nil {
		return fallback
	}
	v, ok := inv.node.Parameters[name]
	if !ok || v == nil {
		return fallback
	}
	return v
}

func (inv *Invocation) Resolve(ctx context.Context, value any, itemIndex int) any {
	return inv.evaluator.EvaluateValue(ctx, value, inv.item(itemIndex), itemIndex)
}

func (inv *Invocation) Bindings(itemIndex int) map[string]any {
	return inv.evaluator.Bindings(inv.item(itemIndex), itemIndex)
}

func (inv *Invocation) SeedData() schema.Items { return inv.seed }

func (inv *Invocation) Logger() *slog.Logger { return inv.logger }

func (inv *Invocation) item(index int) schema.Record {
	items := inv.InputData(0)
	if index < 0 || index >= len(items) {
		return schema.Record{}
	}
	return items[index]
}

var _ ExecuteContext = (*Invocation)(nil)
