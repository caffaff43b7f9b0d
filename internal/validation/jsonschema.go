package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const graphSchemaURL = "https://nodeflow.dev/schemas/graph.json"

// graphSchemaJSON is the JSON Schema for workflow graphs.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://nodeflow.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "connections": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {
          "type": "array",
          "items": {
            "type": ["array", "null"],
            "items": { "$ref": "#/$defs/connection" }
          }
        }
      }
    },
    "settings": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "id": { "type": "string" },
        "name": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "parameters": { "type": "object" },
        "position": {
          "type": "array",
          "items": { "type": "number" },
          "maxItems": 2
        },
        "disabled": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "connection": {
      "type": "object",
      "required": ["node"],
      "properties": {
        "node": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "enum": ["", "main"] },
        "index": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// Violation is one leaf JSON Schema failure.
type Violation struct {
	Location []string
	Message  string
}

// Path renders the instance location as a JSON pointer.
func (v Violation) Path() string {
	return "/" + strings.Join(v.Location, "/")
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path(), v.Message)
}

// JSONSchemaValidator validates graphs against the graph schema and node
// parameters against the schemas their node types declare.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	graphSchema *jsonschema.Schema

	// mu guards the cache of compiled parameter schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the graph schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource(graphSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}
	compiled, err := c.Compile(graphSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &JSONSchemaValidator{
		graphSchema: compiled,
		cache:       make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateGraph checks the shape of def.
func (v *JSONSchemaValidator) ValidateGraph(def *schema.Graph) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow graph is nil")
	}
	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow graph").WithCause(err)
	}
	if err := v.graphSchema.Validate(doc); err != nil {
		return toFlowError(err, nil)
	}
	return nil
}

// ValidateParameters validates params against paramSchema. Violations located
// at expression strings are ignored: their value is only known at run time.
// An empty schema accepts anything.
func (v *JSONSchemaValidator) ValidateParameters(params map[string]any, paramSchema []byte) error {
	if len(paramSchema) == 0 {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	compiled, err := v.getOrCompile(paramSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid parameter schema").WithCause(err)
	}

	doc, err := toJSONValue(params)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize parameters").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		keep := func(viol Violation) bool {
			s, ok := valueAt(params, viol.Location).(string)
			return !ok || !expressions.IsExpression(s)
		}
		return toFlowError(err, keep)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("nodeflow://parameter-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through encoding/json so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError listing
// the leaf violations. keep, when set, filters violations; if none survive the
// result is nil.
func toFlowError(err error, keep func(Violation) bool) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	var violations []string
	for _, viol := range collectViolations(verr) {
		if keep != nil && !keep(viol) {
			continue
		}
		violations = append(violations, viol.String())
	}

	switch len(violations) {
	case 0:
		if keep != nil {
			return nil
		}
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// collectViolations walks a ValidationError tree and returns its leaves.
func collectViolations(verr *jsonschema.ValidationError) []Violation {
	if len(verr.Causes) == 0 {
		return []Violation{{Location: verr.InstanceLocation, Message: verr.Error()}}
	}
	var out []Violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

// valueAt follows a JSON pointer location through maps and slices.
func valueAt(doc any, location []string) any {
	cur := doc
	for _, tok := range location {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[tok]
		case []any:
			var i int
			if _, err := fmt.Sscanf(tok, "%d", &i); err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}

// violationsOf extracts the violation strings carried by a FlowError built by toFlowError.
func violationsOf(err error) []string {
	fe, ok := err.(*schema.FlowError)
	if !ok {
		return []string{err.Error()}
	}
	if list, ok := fe.Details["violations"].([]string); ok {
		return list
	}
	return []string{fe.Message}
}
