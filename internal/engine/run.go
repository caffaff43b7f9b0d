package engine

import (
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// RunExecutionData is the record of one workflow execution.
type RunExecutionData struct {
	RunID       string           `json:"runId"`
	WorkflowID  string           `json:"workflowId,omitempty"`
	Status      schema.RunStatus `json:"status"`
	Destination string           `json:"destination,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty"`
	ResultData  ResultData       `json:"resultData"`
}

// ResultData holds every node execution of a run keyed by node name.
type ResultData struct {
	RunData          map[string][]TaskData `json:"runData"`
	ExecutionOrder   []string              `json:"executionOrder"`
	LastNodeExecuted string                `json:"lastNodeExecuted,omitempty"`
	Error            *schema.FlowError     `json:"error,omitempty"`
}

// TaskData records one execution of one node.
type TaskData struct {
	StartTime     time.Time         `json:"startTime"`
	ExecutionTime int64             `json:"executionTime"` // milliseconds
	Source        *SourceConnection `json:"source,omitempty"`
	Data          []schema.Items    `json:"data"` // one item list per output port
	Error         *schema.FlowError `json:"error,omitempty"`
}

// SourceConnection identifies the upstream output that delivered a node's input.
// Nil for entry nodes.
type SourceConnection struct {
	Node        string `json:"node"`
	OutputIndex int    `json:"outputIndex"`
	InputIndex  int    `json:"inputIndex"`
}

func newRunExecutionData(runID, workflowID, destination string) *RunExecutionData {
	return &RunExecutionData{
		RunID:       runID,
		WorkflowID:  workflowID,
		Status:      schema.RunStatusIdle,
		Destination: destination,
		StartedAt:   time.Now().UTC(),
		ResultData: ResultData{
			RunData:        make(map[string][]TaskData),
			ExecutionOrder: make([]string, 0),
		},
	}
}

// Executions returns the number of times node ran.
func (r *RunExecutionData) Executions(node string) int {
	return len(r.ResultData.RunData[node])
}

// Output returns the items of the given output port of the node's latest execution.
func (r *RunExecutionData) Output(node string, port int) (schema.Items, bool) {
	tasks := r.ResultData.RunData[node]
	if len(tasks) == 0 {
		return nil, false
	}
	data := tasks[len(tasks)-1].Data
	if port < 0 || port >= len(data) {
		return schema.Items{}, true
	}
	return data[port], true
}

// Succeeded reports whether the run finished without error.
func (r *RunExecutionData) Succeeded() bool {
	return r.Status == schema.RunStatusSucceeded
}
