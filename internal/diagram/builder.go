package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Build constructs a DiagramModel from a workflow graph and an optional run record.
// It uses engine.BuildGraph for topology, so nodes appear in execution order
// and invalid graphs are rejected with the executor's own error.
func Build(def *schema.Graph, run *engine.RunExecutionData) (*DiagramModel, error) {
	g, err := engine.BuildGraph(def)
	if err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	nodes := make([]*Node, 0, len(g.Sorted))
	for _, name := range g.Sorted {
		n, _ := g.Node(name)
		node := &Node{
			ID:    n.Name,
			Label: nodeLabel(n),
			Type:  n.Type,
			Kind:  typeToKind(n.Type),
		}
		overlayStatus(node, n, run)
		nodes = append(nodes, node)
	}

	return &DiagramModel{
		Title:  titleFromDef(def),
		Nodes:  nodes,
		Edges:  buildEdges(def),
		Levels: buildLevels(g),
	}, nil
}

// typeToKind maps a node type name to a NodeKind.
func typeToKind(nodeType string) NodeKind {
	switch {
	case strings.HasPrefix(nodeType, "trigger."):
		return NodeKindTrigger
	case nodeType == "if":
		return NodeKindCondition
	case nodeType == "set", nodeType == "code":
		return NodeKindTransform
	default:
		return NodeKindAction
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(n *schema.Node) string {
	return fmt.Sprintf("%s\n(%s)", n.Name, n.Type)
}

// overlayStatus applies the node's outcome in run, if any.
func overlayStatus(node *Node, n *schema.Node, run *engine.RunExecutionData) {
	if n.Disabled {
		node.Status = &StatusOverlay{Status: StatusDisabled}
		return
	}
	if run == nil {
		return
	}
	tasks := run.ResultData.RunData[n.Name]
	if len(tasks) == 0 {
		return
	}

	last := tasks[len(tasks)-1]
	overlay := &StatusOverlay{
		Status:     StatusCompleted,
		Executions: len(tasks),
	}
	for _, task := range tasks {
		overlay.DurationMs += task.ExecutionTime
	}
	for _, port := range last.Data {
		overlay.Items += len(port)
	}
	if last.Error != nil {
		overlay.Status = StatusFailed
		overlay.Error = last.Error.Message
	}
	node.Status = overlay
}

// buildEdges lists connections in node declaration order.
func buildEdges(def *schema.Graph) []Edge {
	var edges []Edge
	for _, n := range def.Nodes {
		outputs := def.Connections.Outputs(n.Name, schema.MainPort)
		for port, conns := range outputs {
			label := portLabel(n.Type, port, len(outputs))
			for _, c := range conns {
				edges = append(edges, Edge{From: n.Name, To: c.Node, Label: label})
			}
		}
	}
	return edges
}

// portLabel names an output port. Single-output nodes get no label.
func portLabel(nodeType string, port, ports int) string {
	if nodeType == "if" {
		if port == 0 {
			return "true"
		}
		return "false"
	}
	if ports > 1 {
		return fmt.Sprintf("output %d", port)
	}
	return ""
}

// buildLevels groups nodes by longest distance from an entry node,
// keeping execution order within a level.
func buildLevels(g *engine.Graph) [][]string {
	depth := make(map[string]int, len(g.Sorted))
	maxDepth := 0
	for _, name := range g.Sorted {
		d := 0
		for _, parent := range g.Parents(name) {
			if depth[parent]+1 > d {
				d = depth[parent] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, name := range g.Sorted {
		levels[depth[name]] = append(levels[depth[name]], name)
	}
	return levels
}

// titleFromDef generates a diagram title from workflow metadata.
func titleFromDef(def *schema.Graph) string {
	switch {
	case def.Name != "":
		return def.Name
	case def.ID != "":
		return def.ID
	default:
		return "Workflow"
	}
}
