package nodes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

const setSchema = `{
  "type": "object",
  "properties": {
    "keepOnlySet": {"type": "boolean", "default": false},
    "dotNotation": {"type": "boolean", "default": false},
    "values": {
      "type": "object",
      "properties": {
        "string": {"$ref": "#/$defs/entries"},
        "number": {"$ref": "#/$defs/entries"},
        "boolean": {"$ref": "#/$defs/entries"}
      },
      "additionalProperties": false
    }
  },
  "$defs": {
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "value": {}
        }
      }
    }
  }
}`

// setCategories is the order in which value groups are applied.
var setCategories = []string{"string", "number", "boolean"}

// SetNode implements the "set" node: assigns typed fields on each item.
type SetNode struct{}

// NewSetNode creates the set node type.
func NewSetNode() *SetNode { return &SetNode{} }

func (n *SetNode) Describe() Descriptor {
	return Descriptor{
		Name:        "set",
		DisplayName: "Set",
		Description: "Sets string, number and boolean fields on every item.",
		Inputs:      1,
		Outputs:     1,
		Parameters: []ParameterSpec{
			{Name: "values", Type: "object", Description: "{string|number|boolean: [{name, value}]}"},
			{Name: "keepOnlySet", Type: "boolean", Default: false},
			{Name: "dotNotation", Type: "boolean", Default: false, Description: "Treat dots in names as nested paths"},
		},
		ParameterSchema: json.RawMessage(setSchema),
	}
}

func (n *SetNode) Execute(ctx context.Context, ec ExecuteContext) ([]schema.Items, error) {
	items := ec.InputData(0)
	values := asRecord(ec.NodeParameter("values", 0, nil))
	out := make(schema.Items, 0, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "set: cancelled").WithCause(err)
		}

		flags := map[string]any{
			"keepOnlySet": ec.Resolve(ctx, ec.NodeParameter("keepOnlySet", i, false), i),
			"dotNotation": ec.Resolve(ctx, ec.NodeParameter("dotNotation", i, false), i),
		}
		dotted := boolParam(flags, "dotNotation", false)

		var rec schema.Record
		if boolParam(flags, "keepOnlySet", false) {
			rec = schema.Record{}
		} else {
			rec = schema.CloneRecord(item)
		}

		for _, category := range setCategories {
			entries, _ := values[category].([]any)
			for _, e := range entries {
				entry := asRecord(e)
				name := expressions.ToString(ec.Resolve(ctx, entry["name"], i))
				if name == "" {
					continue
				}
				val := coerce(category, ec.Resolve(ctx, entry["value"], i))
				if dotted {
					setPath(rec, strings.Split(name, "."), val)
				} else {
					rec[name] = val
				}
			}
		}
		out = append(out, rec)
	}
	return []schema.Items{out}, nil
}

func coerce(category string, v any) any {
	switch category {
	case "number":
		if v == nil || expressions.IsUndefined(v) {
			return nil
		}
		f, err := expressions.ToNumber(v)
		if err != nil {
			return nil
		}
		return f
	case "boolean":
		return expressions.ToBoolean(v)
	default:
		if v == nil || expressions.IsUndefined(v) {
			return ""
		}
		return expressions.ToString(v)
	}
}

// setPath writes val at path, copying every nested record it descends into
// so the input item is never mutated.
func setPath(rec schema.Record, path []string, val any) {
	cur := rec
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if ok {
			next = schema.CloneRecord(next)
		} else {
			next = map[string]any{}
		}
		cur[key] = next
		cur = next
	}
	cur[path[len(path)-1]] = val
}
