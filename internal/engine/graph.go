package engine

import (
	"slices"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Graph is the validated, indexed form of a schema.Graph used by the executor.
type Graph struct {
	Def      *schema.Graph
	Sorted   []string // topological order, ties broken by declaration order
	Entries  []string // nodes that are never a connection target, in declaration order
	nodes    map[string]*schema.Node
	parents  map[string][]string
	children map[string][]string
}

// BuildGraph indexes a graph definition and checks its structure: node names
// are non-empty and unique, connection endpoints exist, port indexes are
// non-negative, only the main port type is used, and the graph is acyclic.
func BuildGraph(def *schema.Graph) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph is nil")
	}
	if len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph has no nodes")
	}

	g := &Graph{
		Def:      def,
		nodes:    make(map[string]*schema.Node, len(def.Nodes)),
		parents:  make(map[string][]string, len(def.Nodes)),
		children: make(map[string][]string, len(def.Nodes)),
	}

	// First pass: register nodes and check for duplicates.
	for i := range def.Nodes {
		node := &def.Nodes[i]
		if node.Name == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node at index %d has empty name", i)
		}
		if _, exists := g.nodes[node.Name]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node name: %s", node.Name)
		}
		if node.Type == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s has empty type", node.Name).WithNode(node.Name)
		}
		g.nodes[node.Name] = node
	}

	// Second pass: validate connections and build adjacency lists.
	inDegree := make(map[string]int, len(def.Nodes))
	for source, byType := range def.Connections {
		if _, ok := g.nodes[source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "connection from non-existent node: %s", source)
		}
		for portType, ports := range byType {
			if portType != schema.MainPort {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"node %s: unsupported connection type %q", source, portType)
			}
			for port, conns := range ports {
				for _, c := range conns {
					if _, ok := g.nodes[c.Node]; !ok {
						return nil, schema.NewErrorf(schema.ErrCodeValidation,
							"node %s output %d connects to non-existent node: %s", source, port, c.Node)
					}
					if c.Type != "" && c.Type != schema.MainPort {
						return nil, schema.NewErrorf(schema.ErrCodeValidation,
							"node %s output %d: unsupported input type %q on %s", source, port, c.Type, c.Node)
					}
					if c.Index < 0 {
						return nil, schema.NewErrorf(schema.ErrCodeValidation,
							"node %s output %d: negative input index on %s", source, port, c.Node)
					}
					if c.Node == source {
						return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s connects to itself", source).
							WithNode(source)
					}
					g.children[source] = appendUnique(g.children[source], c.Node)
					if !slices.Contains(g.parents[c.Node], source) {
						g.parents[c.Node] = append(g.parents[c.Node], source)
						inDegree[c.Node]++
					}
				}
			}
		}
	}

	// Entries and Kahn's algorithm, both in declaration order.
	queue := make([]string, 0)
	for _, node := range def.Nodes {
		if inDegree[node.Name] == 0 {
			g.Entries = append(g.Entries, node.Name)
			queue = append(queue, node.Name)
		}
	}

	sorted := make([]string, 0, len(def.Nodes))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		sorted = append(sorted, name)

		for _, child := range g.orderedChildren(name) {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(sorted) != len(def.Nodes) {
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "graph contains a cycle through %v", g.cycleMembers(sorted))
	}
	g.Sorted = sorted
	return g, nil
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*schema.Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Parents returns the distinct upstream nodes of name.
func (g *Graph) Parents(name string) []string {
	return g.parents[name]
}

// Children returns the distinct downstream nodes of name.
func (g *Graph) Children(name string) []string {
	return g.children[name]
}

// Ancestors returns every node with a path to name, name included.
func (g *Graph) Ancestors(name string) map[string]bool {
	seen := map[string]bool{name: true}
	stack := []string{name}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.parents[cur] {
			if !seen[p] {
				seen[p] = true
				stack = append(stack, p)
			}
		}
	}
	return seen
}

// Reachable returns every node reachable from the entry nodes.
func (g *Graph) Reachable() map[string]bool {
	seen := make(map[string]bool, len(g.nodes))
	stack := append([]string(nil), g.Entries...)
	for _, e := range g.Entries {
		seen[e] = true
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range g.children[cur] {
			if !seen[c] {
				seen[c] = true
				stack = append(stack, c)
			}
		}
	}
	return seen
}

// orderedChildren returns children of name sorted by declaration order.
func (g *Graph) orderedChildren(name string) []string {
	kids := g.children[name]
	if len(kids) < 2 {
		return kids
	}
	out := make([]string, 0, len(kids))
	for _, n := range g.Def.Nodes {
		if slices.Contains(kids, n.Name) {
			out = append(out, n.Name)
		}
	}
	return out
}

func (g *Graph) cycleMembers(sorted []string) []string {
	done := make(map[string]bool, len(sorted))
	for _, s := range sorted {
		done[s] = true
	}
	var members []string
	for _, n := range g.Def.Nodes {
		if !done[n.Name] {
			members = append(members, n.Name)
		}
	}
	return members
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
