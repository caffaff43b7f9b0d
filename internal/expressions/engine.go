package expressions

import "context"

// Engine evaluates expressions against a data environment.
// Three implementations: Expr (parameter expressions and code blocks),
// GoJQ (path search) and CEL (routing conditions).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
