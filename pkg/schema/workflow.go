package schema

// MainPort is the only connection port type used by the built-in nodes.
const MainPort = "main"

// Graph is the JSON-serializable workflow definition handed to the executor.
type Graph struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Nodes       []Node         `json:"nodes"`
	Connections Connections    `json:"connections"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// Node is one unit of work in a graph. Name is the join key used by Connections
// and must be unique within the graph.
type Node struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Position   [2]float64     `json:"position,omitempty"`
	Disabled   bool           `json:"disabled,omitempty"`
}

// Connection is one destination of an output port.
type Connection struct {
	Node  string `json:"node"`  // target node name
	Type  string `json:"type"`  // target input port type
	Index int    `json:"index"` // target input port index
}

// Connections maps source node name -> port type -> output port index -> destinations.
type Connections map[string]map[string][][]Connection

// Outputs returns the destinations of every output port of the named node for
// the given port type. The outer slice is indexed by output port.
func (c Connections) Outputs(source, portType string) [][]Connection {
	if c == nil {
		return nil
	}
	byType, ok := c[source]
	if !ok {
		return nil
	}
	return byType[portType]
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].Name == name {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}
