package expressions

import (
	"context"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// singleBlock reports whether s (already trimmed) is exactly one {{ ... }} block
// and returns its inner expression.
func singleBlock(s string) (string, bool) {
	if len(s) < len(openDelim)+len(closeDelim) ||
		!strings.HasPrefix(s, openDelim) || !strings.HasSuffix(s, closeDelim) {
		return "", false
	}
	inner := s[len(openDelim) : len(s)-len(closeDelim)]
	if strings.Contains(inner, openDelim) {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// renderTemplate substitutes every {{ ... }} block in tmpl with the string form
// of its evaluated value. Text outside blocks is copied verbatim.
func (ev *Evaluator) renderTemplate(ctx context.Context, tmpl string, env map[string]any) (string, error) {
	var out strings.Builder
	out.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		idx := strings.Index(tmpl[i:], openDelim)
		if idx == -1 {
			out.WriteString(tmpl[i:])
			break
		}
		out.WriteString(tmpl[i : i+idx])
		start := i + idx + len(openDelim)

		end := strings.Index(tmpl[start:], closeDelim)
		if end == -1 {
			return "", schema.NewErrorf(schema.ErrCodeExpression, "unclosed %s in template", openDelim)
		}
		end += start

		src := strings.TrimSpace(tmpl[start:end])
		if src == "" {
			return "", schema.NewError(schema.ErrCodeExpression, "empty {{ }} block in template")
		}
		val, err := ev.engine.Evaluate(ctx, src, env)
		if err != nil {
			return "", err
		}
		out.WriteString(stringify(val))
		i = end + len(closeDelim)
	}
	return out.String(), nil
}
