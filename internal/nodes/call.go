package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/nodeflow/pkg/schema"
)

const outboundCallSchema = `{
  "type": "object",
  "properties": {
    "to": {"type": "string"},
    "from": {"type": "string"},
    "script": {"type": "string"},
    "parameters": {"type": "object"}
  },
  "required": ["to"]
}`

// CallStatusQueued is the status of every call intent emitted by the node.
const CallStatusQueued = "queued"

// OutboundCallNode implements the "call.outbound" node. It never places the
// call itself: each output item is the resolved call intent consumed by the
// host's calling integration.
type OutboundCallNode struct {
	now   func() time.Time
	newID func() string
}

// NewOutboundCallNode creates the node type. now and newID may be nil.
func NewOutboundCallNode(now func() time.Time, newID func() string) *OutboundCallNode {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &OutboundCallNode{now: now, newID: newID}
}

func (n *OutboundCallNode) Describe() Descriptor {
	return Descriptor{
		Name:        "call.outbound",
		DisplayName: "Place Outbound Call",
		Description: "Resolves an outbound call intent per item: target, caller id, script and parameters.",
		Inputs:      1,
		Outputs:     1,
		Parameters: []ParameterSpec{
			{Name: "to", Type: "string", Required: true, Description: "Number or address to call"},
			{Name: "from", Type: "string", Description: "Caller id"},
			{Name: "script", Type: "string", Description: "Script or agent identifier"},
			{Name: "parameters", Type: "object", Description: "Extra call variables"},
		},
		ParameterSchema: json.RawMessage(outboundCallSchema),
	}
}

func (n *OutboundCallNode) Execute(ctx context.Context, ec ExecuteContext) ([]schema.Items, error) {
	node := ec.Node()
	items := ec.InputData(0)
	out := make(schema.Items, 0, len(items))

	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "call.outbound: cancelled").WithCause(err)
		}

		resolved := asRecord(ec.Resolve(ctx, node.Parameters, i))
		to := stringParam(resolved, "to", "")
		if to == "" {
			return nil, schema.NewErrorf(schema.ErrCodeMissingParameter,
				"call.outbound: parameter 'to' is empty for item %d", i).
				WithNode(node.Name).
				WithDetails(map[string]any{"parameter": "to", "itemIndex": i})
		}

		out = append(out, schema.Record{
			"callId":             n.newID(),
			"resolvedTarget":     to,
			"status":             CallStatusQueued,
			"timestamp":          n.now().UTC().Format(time.RFC3339Nano),
			"resolvedParameters": resolved,
		})
	}
	return []schema.Items{out}, nil
}
