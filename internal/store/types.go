package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Run triggers.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerMCP      = "mcp"
)

// Workflow is a saved graph.
type Workflow struct {
	ID        string       `json:"id"`
	Name      string       `json:"name,omitempty"`
	Graph     schema.Graph `json:"graph"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Run is a persisted run record. Record holds the full engine.RunExecutionData as JSON.
type Run struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id,omitempty"`
	Status           schema.RunStatus `json:"status"`
	Trigger          string           `json:"trigger"`
	Destination      string           `json:"destination,omitempty"`
	Record           json.RawMessage  `json:"record"`
	Error            json.RawMessage  `json:"error,omitempty"`
	LastNodeExecuted string           `json:"last_node_executed,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// NewRun converts an engine run record into a storable Run.
func NewRun(rec *engine.RunExecutionData, trigger string) (*Run, error) {
	if rec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run record is nil")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal run record: %w", err)
	}
	run := &Run{
		ID:               rec.RunID,
		WorkflowID:       rec.WorkflowID,
		Status:           rec.Status,
		Trigger:          trigger,
		Destination:      rec.Destination,
		Record:           raw,
		LastNodeExecuted: rec.ResultData.LastNodeExecuted,
		StartedAt:        rec.StartedAt,
		FinishedAt:       rec.FinishedAt,
	}
	if rec.ResultData.Error != nil {
		if run.Error, err = json.Marshal(rec.ResultData.Error); err != nil {
			return nil, fmt.Errorf("marshal run error: %w", err)
		}
	}
	return run, nil
}

// Decode unmarshals the stored run record.
func (r *Run) Decode() (*engine.RunExecutionData, error) {
	var rec engine.RunExecutionData
	if err := json.Unmarshal(r.Record, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &rec, nil
}

// Schedule runs a saved workflow on a cron expression.
type Schedule struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	CronExpression string          `json:"cron_expression"`
	Seed           json.RawMessage `json:"seed,omitempty"` // JSON array of seed items
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	LastRunID      string          `json:"last_run_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SeedItems decodes the schedule seed.
func (s *Schedule) SeedItems() (schema.Items, error) {
	if len(s.Seed) == 0 {
		return nil, nil
	}
	var items schema.Items
	if err := json.Unmarshal(s.Seed, &items); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "schedule seed must be a JSON array of objects").WithCause(err)
	}
	return items, nil
}

// Event is one persisted run event.
type Event struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	Node       string          `json:"node,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// NodeState is the per-node view reconstructed from a run's events.
type NodeState struct {
	Node        string          `json:"node"`
	Status      string          `json:"status"` // started, completed, failed, skipped
	Executions  int             `json:"executions"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	WorkflowID string           `json:"workflow_id,omitempty"`
	Status     schema.RunStatus `json:"status,omitempty"`
	Trigger    string           `json:"trigger,omitempty"`
	Since      *time.Time       `json:"since,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	LastRunID     string     `json:"last_run_id,omitempty"`
}
