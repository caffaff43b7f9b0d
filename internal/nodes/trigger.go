package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

const manualTriggerSchema = `{
  "type": "object",
  "properties": {
    "source": {"type": "string", "default": "manual"},
    "payload": {}
  }
}`

// ManualTrigger implements the "trigger.manual" node: the entry point of a run.
type ManualTrigger struct {
	now func() time.Time
}

// NewManualTrigger creates a manual trigger. now may be nil.
func NewManualTrigger(now func() time.Time) *ManualTrigger {
	if now == nil {
		now = time.Now
	}
	return &ManualTrigger{now: now}
}

func (t *ManualTrigger) Describe() Descriptor {
	return Descriptor{
		Name:        "trigger.manual",
		DisplayName: "Manual Trigger",
		Description: "Starts a run. Emits the host-supplied seed items, or one simulated event.",
		Inputs:      0,
		Outputs:     1,
		Parameters: []ParameterSpec{
			{Name: "source", Type: "string", Description: "Event source label", Default: "manual"},
			{Name: "payload", Type: "any", Description: "Payload attached to the simulated event"},
		},
		ParameterSchema: json.RawMessage(manualTriggerSchema),
	}
}

func (t *ManualTrigger) Execute(_ context.Context, ec ExecuteContext) ([]schema.Items, error) {
	if seed := ec.SeedData(); len(seed) > 0 {
		out := make(schema.Items, len(seed))
		for i, rec := range seed {
			out[i] = expressions.CloneValue(rec).(map[string]any)
		}
		return []schema.Items{out}, nil
	}

	source, _ := ec.NodeParameter("source", 0, "manual").(string)
	if source == "" {
		source = "manual"
	}
	event := schema.Record{
		"source":      source,
		"triggeredAt": t.now().UTC().Format(time.RFC3339),
	}
	if payload := ec.NodeParameter("payload", 0, nil); payload != nil {
		event["payload"] = expressions.CloneValue(payload)
	}
	return []schema.Items{{event}}, nil
}
