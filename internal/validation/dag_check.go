package validation

import (
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// validateDAG performs graph analysis over the node connections:
// cycle detection (Kahn's algorithm) and reachability through enabled nodes.
func validateDAG(def *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]bool, len(def.Nodes))
	disabled := make(map[string]bool)
	for _, n := range def.Nodes {
		names[n.Name] = true
		if n.Disabled {
			disabled[n.Name] = true
		}
	}

	// children[n] = distinct targets of n, parents counted per distinct edge.
	children := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	for _, n := range def.Nodes {
		seen := make(map[string]bool)
		for _, conns := range def.Connections.Outputs(n.Name, schema.MainPort) {
			for _, c := range conns {
				if !names[c.Node] || seen[c.Node] {
					continue // invalid refs already caught by semantic
				}
				seen[c.Node] = true
				children[n.Name] = append(children[n.Name], c.Node)
				inDegree[c.Node]++
			}
		}
	}

	// Roots in declaration order.
	roots := make([]string, 0)
	for _, n := range def.Nodes {
		if inDegree[n.Name] == 0 {
			roots = append(roots, n.Name)
		}
	}

	remaining := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		remaining[k] = v
	}
	queue := append([]string(nil), roots...)
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range children[node] {
			remaining[child]--
			if remaining[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if visited != len(names) {
		var members []string
		for _, n := range def.Nodes {
			if remaining[n.Name] > 0 {
				members = append(members, n.Name)
			}
		}
		result.AddError("connections", schema.ErrCodeCycleDetected,
			fmt.Sprintf("graph contains a cycle through %v", members))
		return result // cycle makes reachability analysis meaningless
	}

	// Reachability: BFS from enabled roots through enabled nodes.
	reachable := make(map[string]bool, len(names))
	bfs := make([]string, 0, len(roots))
	for _, r := range roots {
		if !disabled[r] {
			reachable[r] = true
			bfs = append(bfs, r)
		}
	}
	for len(bfs) > 0 {
		node := bfs[0]
		bfs = bfs[1:]
		for _, child := range children[node] {
			if !reachable[child] && !disabled[child] {
				reachable[child] = true
				bfs = append(bfs, child)
			}
		}
	}

	for i, n := range def.Nodes {
		if disabled[n.Name] || reachable[n.Name] {
			continue
		}
		result.AddNodeWarning(n.Name, fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
			fmt.Sprintf("node %q never runs: every path to it passes through a disabled node", n.Name))
	}

	if len(roots) > 0 && allDisabled(roots, disabled) {
		result.AddWarning("nodes", schema.ErrCodeValidation, "every entry node is disabled; a run executes nothing")
	}

	return result
}

func allDisabled(list []string, disabled map[string]bool) bool {
	for _, n := range list {
		if !disabled[n] {
			return false
		}
	}
	return true
}
