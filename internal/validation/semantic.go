package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/pkg/schema"
)

// NodeLookup resolves node type descriptors. *nodes.Registry satisfies it.
type NodeLookup interface {
	Describe(name string) (nodes.Descriptor, bool)
}

// validateSemantic checks node names, node types, connection references,
// port ranges and literal parameters.
func validateSemantic(def *schema.Graph, lookup NodeLookup, params *JSONSchemaValidator) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	byName := make(map[string]*schema.Node, len(def.Nodes))
	descs := make(map[string]nodes.Descriptor, len(def.Nodes))

	for i := range def.Nodes {
		node := &def.Nodes[i]
		path := fmt.Sprintf("nodes[%d]", i)

		if _, dup := byName[node.Name]; dup {
			result.AddNodeError(node.Name, path+".name", schema.ErrCodeConflict,
				fmt.Sprintf("duplicate node name %q", node.Name))
			continue
		}
		byName[node.Name] = node

		if lookup == nil {
			continue
		}
		desc, ok := lookup.Describe(node.Type)
		if !ok {
			if node.Disabled {
				result.AddNodeWarning(node.Name, path+".type", schema.ErrCodeUnknownNodeType,
					fmt.Sprintf("disabled node %q has unknown type %q", node.Name, node.Type))
			} else {
				result.AddNodeError(node.Name, path+".type", schema.ErrCodeUnknownNodeType,
					fmt.Sprintf("node %q has unknown type %q", node.Name, node.Type))
			}
			continue
		}
		descs[node.Name] = desc

		if node.Disabled || params == nil {
			continue
		}
		if err := params.ValidateParameters(node.Parameters, desc.ParameterSchema); err != nil {
			for _, msg := range violationsOf(err) {
				result.AddNodeError(node.Name, path+".parameters", schema.ErrCodeValidation,
					fmt.Sprintf("node %q: %s", node.Name, msg))
			}
		}
	}

	validateConnections(def, byName, descs, result)
	warnDetachedNodes(def, descs, result)
	return result
}

// warnDetachedNodes flags enabled nodes that take input but have no incoming
// connection. They still run, as entry nodes fed with the seed items.
func warnDetachedNodes(def *schema.Graph, descs map[string]nodes.Descriptor, result *schema.ValidationResult) {
	incoming := make(map[string]bool, len(def.Nodes))
	for _, byType := range def.Connections {
		for _, conns := range byType[schema.MainPort] {
			for _, c := range conns {
				incoming[c.Node] = true
			}
		}
	}
	for i, node := range def.Nodes {
		desc, ok := descs[node.Name]
		if !ok || node.Disabled || incoming[node.Name] || desc.Inputs == 0 {
			continue
		}
		result.AddNodeWarning(node.Name, fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
			fmt.Sprintf("node %q has no incoming connection and runs as an entry node", node.Name))
	}
}

// validateConnections checks every connection against the node set and the
// declared port counts. Sources are visited in sorted order for stable output.
func validateConnections(def *schema.Graph, byName map[string]*schema.Node, descs map[string]nodes.Descriptor, result *schema.ValidationResult) {
	sources := make([]string, 0, len(def.Connections))
	for source := range def.Connections {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		base := "connections." + source
		if _, ok := byName[source]; !ok {
			result.AddNodeError(source, base, schema.ErrCodeNotFound,
				fmt.Sprintf("connection source %q is not a node", source))
			continue
		}

		portTypes := make([]string, 0, len(def.Connections[source]))
		for pt := range def.Connections[source] {
			portTypes = append(portTypes, pt)
		}
		sort.Strings(portTypes)

		for _, portType := range portTypes {
			if portType != schema.MainPort {
				result.AddNodeError(source, base+"."+portType, schema.ErrCodeValidation,
					fmt.Sprintf("unsupported port type %q", portType))
				continue
			}

			srcDesc, srcKnown := descs[source]
			for port, conns := range def.Connections[source][portType] {
				portPath := fmt.Sprintf("%s.%s[%d]", base, portType, port)
				if len(conns) > 0 && srcKnown && port >= srcDesc.Outputs {
					result.AddNodeError(source, portPath, schema.ErrCodeValidation,
						fmt.Sprintf("node %q has no output %d (declares %d)", source, port, srcDesc.Outputs))
				}

				for j, c := range conns {
					connPath := fmt.Sprintf("%s[%d]", portPath, j)
					if _, ok := byName[c.Node]; !ok {
						result.AddNodeError(source, connPath, schema.ErrCodeNotFound,
							fmt.Sprintf("connection target %q is not a node", c.Node))
						continue
					}
					if c.Node == source {
						result.AddNodeError(source, connPath, schema.ErrCodeCycleDetected,
							fmt.Sprintf("node %q connects to itself", source))
						continue
					}
					if desc, ok := descs[c.Node]; ok && c.Index >= desc.Inputs {
						result.AddNodeError(c.Node, connPath, schema.ErrCodeValidation,
							fmt.Sprintf("node %q has no input %d (declares %d)", c.Node, c.Index, desc.Inputs))
					}
				}
			}
		}
	}
}
