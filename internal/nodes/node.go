package nodes

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/nodeflow/pkg/schema"
)

// NodeType is an executable unit of work bound to a graph node by its type name.
// Execute returns one item list per output port.
type NodeType interface {
	Describe() Descriptor
	Execute(ctx context.Context, ec ExecuteContext) ([]schema.Items, error)
}

// Descriptor is the static description of a node type.
type Descriptor struct {
	Name            string          `json:"name"`
	DisplayName     string          `json:"displayName"`
	Description     string          `json:"description,omitempty"`
	Inputs          int             `json:"inputs"`
	Outputs         int             `json:"outputs"`
	Parameters      []ParameterSpec `json:"parameters,omitempty"`
	ParameterSchema json.RawMessage `json:"parameterSchema,omitempty"`
}

// ParameterSpec declares one node parameter.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ExecuteContext is what a node type sees during one invocation.
// It is read-only: node types must not mutate their input items.
type ExecuteContext interface {
	// Node returns the graph node being executed.
	Node() *schema.Node
	// InputData returns the items delivered to input port for this invocation.
	InputData(port int) schema.Items
	// NodeParameter returns the declared parameter value without expression resolution.
	NodeParameter(name string, itemIndex int, fallback any) any
	// Resolve evaluates expressions in value against input item itemIndex of port 0.
	Resolve(ctx context.Context, value any, itemIndex int) any
	// Bindings returns the expression environment for input item itemIndex.
	Bindings(itemIndex int) map[string]any
	// SeedData returns host-supplied items for trigger nodes.
	SeedData() schema.Items
	Logger() *slog.Logger
}

// Info is a registry listing entry.
type Info struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	Inputs      int    `json:"inputs"`
	Outputs     int    `json:"outputs"`
}
