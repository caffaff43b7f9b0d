package diagram

// NodeKind classifies a diagram node by the role of its node type.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAction    NodeKind = "action"
	NodeKindTransform NodeKind = "transform"
	NodeKindCondition NodeKind = "condition"
)

// Status values carried by StatusOverlay.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDisabled  = "disabled"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single graph node in the diagram.
type Node struct {
	ID     string // node name
	Label  string
	Type   string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the outcome of a node in a finished run.
type StatusOverlay struct {
	Status     string
	Executions int
	DurationMs int64
	Items      int // items emitted by the latest execution
	Error      string
}

// Edge represents a connection between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
