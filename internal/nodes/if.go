package nodes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

const ifSchema = `{
  "type": "object",
  "properties": {
    "condition": {"type": "string", "minLength": 1}
  },
  "required": ["condition"]
}`

// IfNode implements the "if" node: routes each item to output 0 when its CEL
// condition holds and to output 1 otherwise.
type IfNode struct {
	cel *expressions.CELEngine
}

// NewIfNode creates the if node type.
func NewIfNode(cel *expressions.CELEngine) *IfNode {
	return &IfNode{cel: cel}
}

func (n *IfNode) Describe() Descriptor {
	return Descriptor{
		Name:        "if",
		DisplayName: "If",
		Description: "Splits items into true (output 0) and false (output 1) by a CEL condition.",
		Inputs:      1,
		Outputs:     2,
		Parameters: []ParameterSpec{
			{Name: "condition", Type: "string", Required: true,
				Description: "CEL expression over json, index and nodes"},
		},
		ParameterSchema: json.RawMessage(ifSchema),
	}
}

func (n *IfNode) Execute(ctx context.Context, ec ExecuteContext) ([]schema.Items, error) {
	raw, _ := ec.NodeParameter("condition", 0, "").(string)
	condition := strings.TrimSpace(strings.TrimPrefix(raw, expressions.ExpressionMarker))
	if condition == "" {
		return nil, schema.NewError(schema.ErrCodeMissingParameter, "if: missing required parameter 'condition'").
			WithNode(ec.Node().Name)
	}

	items := ec.InputData(0)
	trueItems := make(schema.Items, 0, len(items))
	falseItems := make(schema.Items, 0)

	for i, item := range items {
		ok, err := n.cel.EvaluateBool(ctx, condition, ec.Bindings(i))
		if err != nil {
			return nil, err
		}
		if ok {
			trueItems = append(trueItems, item)
		} else {
			falseItems = append(falseItems, item)
		}
	}
	return []schema.Items{trueItems, falseItems}, nil
}
