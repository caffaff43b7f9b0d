package streaming

import (
	"context"
	"time"
)

// RunEvent is a real-time event emitted while a workflow run progresses.
type RunEvent struct {
	RunID      string    `json:"runId"`
	WorkflowID string    `json:"workflowId,omitempty"`
	Node       string    `json:"node,omitempty"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"runId,omitempty"`
	WorkflowID string   `json:"workflowId,omitempty"`
	Types      []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
