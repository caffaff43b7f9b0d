package validation

import "github.com/rendis/nodeflow/pkg/schema"

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node types, connection refs, ports, parameters)
// 3. DAG (cycles, reachability)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	nodes      NodeLookup
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip node type and parameter checks.
func NewWorkflowValidator(lookup NodeLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		nodes:      lookup,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (wv *WorkflowValidator) Validate(def *schema.Graph) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow graph is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.nodes, wv.jsonSchema))

	// The DAG stage needs a well-formed node set.
	if result.Valid() {
		result.Merge(validateDAG(def))
	}

	return result
}

// ValidateGraph returns the pipeline result as a single error, nil when valid.
func (wv *WorkflowValidator) ValidateGraph(def *schema.Graph) error {
	return wv.Validate(def).ToError()
}

// ValidateParameters checks params against a node parameter schema.
func (wv *WorkflowValidator) ValidateParameters(params map[string]any, paramSchema []byte) error {
	return wv.jsonSchema.ValidateParameters(params, paramSchema)
}

// validateStructural converts the JSON Schema check into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err := v.ValidateGraph(def); err != nil {
		for _, msg := range violationsOf(err) {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
	}
	return result
}
