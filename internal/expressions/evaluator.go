package expressions

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Binding names visible to parameter expressions.
const (
	bindingItem  = "json"
	bindingIndex = "index"
	bindingNodes = "nodes"
)

// ExpressionMarker prefixes a parameter string that must be evaluated.
const ExpressionMarker = "="

// UndefinedValue is the result of an expression that failed to evaluate.
// It serializes as JSON null.
type UndefinedValue struct{}

// Undefined is the canonical failed-evaluation value.
var Undefined = UndefinedValue{}

func (UndefinedValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

func (UndefinedValue) String() string { return "undefined" }

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(UndefinedValue)
	return ok
}

// IsExpression reports whether a parameter string carries an expression:
// it starts with "=" or, once trimmed, is a single {{ ... }} block.
func IsExpression(s string) bool {
	if strings.HasPrefix(s, ExpressionMarker) {
		return true
	}
	_, ok := singleBlock(strings.TrimSpace(s))
	return ok
}

// NewDefaultEngine returns an expr engine with the helper library installed.
func NewDefaultEngine() *ExprEngine {
	return NewExprEngine(HelperFunctions(NewGoJQEngine())...)
}

// Evaluator resolves parameter expressions for one node invocation.
// The item binding and index are supplied per call; the nodes binding
// comes from the shared OutputScope.
type Evaluator struct {
	engine *ExprEngine
	scope  *OutputScope
	logger *slog.Logger
}

// NewEvaluator builds an Evaluator. A nil engine uses NewDefaultEngine, a nil
// scope exposes an empty nodes binding.
func NewEvaluator(engine *ExprEngine, scope *OutputScope, logger *slog.Logger) *Evaluator {
	if engine == nil {
		engine = NewDefaultEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{engine: engine, scope: scope, logger: logger}
}

// Bindings returns the environment an expression sees for item at index.
func (ev *Evaluator) Bindings(item schema.Record, index int) map[string]any {
	if item == nil {
		item = schema.Record{}
	}
	var nodes map[string]any
	if ev.scope != nil {
		nodes = ev.scope.Nodes()
	}
	if nodes == nil {
		nodes = map[string]any{}
	}
	return map[string]any{
		bindingItem:  item,
		bindingIndex: index,
		bindingNodes: nodes,
	}
}

// Resolve evaluates s and returns the error instead of Undefined on failure.
// Non-expression strings are returned unchanged.
//
//	"=json.a + 1"            expression, native result
//	"={{ json.a }}"          single block, native result
//	"{{ json.a }}"           single block, native result
//	"=Hello {{ json.name }}" template, string result
func (ev *Evaluator) Resolve(ctx context.Context, s string, item schema.Record, index int) (any, error) {
	if !IsExpression(s) {
		return s, nil
	}

	body := strings.TrimPrefix(s, ExpressionMarker)
	trimmed := strings.TrimSpace(body)
	env := ev.Bindings(item, index)

	if inner, ok := singleBlock(trimmed); ok {
		if inner == "" {
			return nil, schema.NewError(schema.ErrCodeExpression, "empty {{ }} block")
		}
		return ev.engine.Evaluate(ctx, inner, env)
	}
	if strings.Contains(trimmed, openDelim) {
		return ev.renderTemplate(ctx, body, env)
	}
	if trimmed == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expression")
	}
	return ev.engine.Evaluate(ctx, trimmed, env)
}

// Evaluate resolves s; a failed evaluation yields Undefined and a warning log,
// never an error.
func (ev *Evaluator) Evaluate(ctx context.Context, s string, item schema.Record, index int) any {
	v, err := ev.Resolve(ctx, s, item, index)
	if err != nil {
		ev.logger.WarnContext(ctx, "expression evaluation failed",
			slog.String("expression", s),
			slog.Int("index", index),
			slog.String("error", err.Error()),
		)
		return Undefined
	}
	return v
}

// EvaluateAll returns a new record with every value of params evaluated:
// strings are evaluated, nested records recurse, array elements that are
// strings or records are evaluated, everything else is kept as-is.
func (ev *Evaluator) EvaluateAll(ctx context.Context, params schema.Record, item schema.Record, index int) schema.Record {
	out := make(schema.Record, len(params))
	for k, v := range params {
		out[k] = ev.EvaluateValue(ctx, v, item, index)
	}
	return out
}

// EvaluateValue evaluates a single parameter value of any JSON shape.
func (ev *Evaluator) EvaluateValue(ctx context.Context, v any, item schema.Record, index int) any {
	switch val := v.(type) {
	case string:
		return ev.Evaluate(ctx, val, item, index)
	case map[string]any:
		return ev.EvaluateAll(ctx, val, item, index)
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			switch e := el.(type) {
			case string:
				out[i] = ev.Evaluate(ctx, e, item, index)
			case map[string]any:
				out[i] = ev.EvaluateAll(ctx, e, item, index)
			default:
				out[i] = el
			}
		}
		return out
	default:
		return v
	}
}
