package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

const codeSchema = `{
  "type": "object",
  "properties": {
    "code": {"type": "string", "minLength": 1}
  },
  "required": ["code"]
}`

// CodeNode implements the "code" node. The code parameter is an expr-lang
// program evaluated once per invocation over all input items. Its result
// (an object, a list of objects, or nil) becomes the output items.
//
// Sandbox functions: all(), first(), last(), item(i), items, now(), today(),
// random(), fail(message), plus the expression helper library and the
// nodes binding.
type CodeNode struct {
	options []expr.Option
	random  func() float64
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewCodeNode creates a code node type. now and random may be nil.
func NewCodeNode(now func() time.Time, random func() float64) *CodeNode {
	if now == nil {
		now = time.Now
	}
	if random == nil {
		random = rand.Float64
	}
	opts := []expr.Option{
		expr.DisableBuiltin("first"),
		expr.DisableBuiltin("last"),
		expr.DisableBuiltin("now"),
	}
	opts = append(opts, expressions.HelperFunctions(expressions.NewGoJQEngine())...)
	return &CodeNode{
		options: opts,
		random:  random,
		now:     now,
		cache:   make(map[string]*vm.Program),
	}
}

func (n *CodeNode) Describe() Descriptor {
	return Descriptor{
		Name:        "code",
		DisplayName: "Code",
		Description: "Transforms all input items with a sandboxed expression program.",
		Inputs:      1,
		Outputs:     1,
		Parameters: []ParameterSpec{
			{Name: "code", Type: "string", Required: true,
				Description: "expr-lang program; returns an object or a list of objects"},
		},
		ParameterSchema: json.RawMessage(codeSchema),
	}
}

func (n *CodeNode) Execute(ctx context.Context, ec ExecuteContext) ([]schema.Items, error) {
	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeCancelled, "code: cancelled").WithCause(err)
	}

	src, _ := ec.NodeParameter("code", 0, "").(string)
	if src == "" {
		return nil, schema.NewError(schema.ErrCodeMissingParameter, "code: missing required parameter 'code'")
	}

	env := n.env(ec)
	prg, err := n.getOrCompile(src, env)
	if err != nil {
		return nil, err
	}

	result, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "code: %s", err.Error()).WithCause(err)
	}

	items, err := schema.NormalizeItems(normalizeResult(result))
	if err != nil {
		return nil, err
	}
	return []schema.Items{items}, nil
}

func (n *CodeNode) env(ec ExecuteContext) map[string]any {
	input := ec.InputData(0)
	list := make([]any, len(input))
	for i, it := range input {
		list[i] = expressions.CloneValue(map[string]any(it))
	}

	return map[string]any{
		"items": list,
		"nodes": ec.Bindings(0)["nodes"],
		"all":   func() []any { return list },
		"first": func() any {
			if len(list) == 0 {
				return nil
			}
			return list[0]
		},
		"last": func() any {
			if len(list) == 0 {
				return nil
			}
			return list[len(list)-1]
		},
		"item": func(i int) any {
			if i < 0 || i >= len(list) {
				return nil
			}
			return list[i]
		},
		"now":    func() time.Time { return n.now() },
		"random": func() float64 { return n.random() },
		"fail": func(msg string) (any, error) {
			return nil, errors.New(msg)
		},
	}
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (n *CodeNode) getOrCompile(src string, env map[string]any) (*vm.Program, error) {
	n.mu.RLock()
	if prg, ok := n.cache[src]; ok {
		n.mu.RUnlock()
		return prg, nil
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()

	if prg, ok := n.cache[src]; ok {
		return prg, nil
	}

	opts := make([]expr.Option, 0, len(n.options)+1)
	opts = append(opts, expr.Env(env))
	opts = append(opts, n.options...)

	prg, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "code: compile error: %s", err.Error()).
			WithCause(err)
	}
	n.cache[src] = prg
	return prg, nil
}

// normalizeResult converts expr results into shapes NormalizeItems accepts.
func normalizeResult(v any) any {
	switch val := v.(type) {
	case []map[string]any:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out
	case map[string]any:
		return val
	default:
		return v
	}
}
