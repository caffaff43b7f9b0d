package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// EventLog persists run events on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide the run event log.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// Append stores event with the next per-run sequence number.
func (el *EventLog) Append(ctx context.Context, event *Event) error {
	if event.RunID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event run id is required")
	}

	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, workflow_id, node, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.WorkflowID), nullStr(event.Node), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Events returns the events of a run with sequence > since, ordered by sequence.
func (el *EventLog) Events(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := el.store.DB().QueryContext(ctx,
		`SELECT id, run_id, workflow_id, node, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence`, runID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var workflowID, node, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &workflowID, &node, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.WorkflowID = workflowID.String
		e.Node = node.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Replay rebuilds per-node state from the stored events of a run.
// Returns an error if the sequence has gaps.
func (el *EventLog) Replay(ctx context.Context, runID string) (map[string]*NodeState, error) {
	events, err := el.Events(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeState)
	for _, e := range events {
		if e.Node == "" {
			continue
		}
		ns, ok := states[e.Node]
		if !ok {
			ns = &NodeState{Node: e.Node}
			states[e.Node] = ns
		}

		ts := e.Timestamp
		switch e.Type {
		case schema.EventNodeStarted:
			ns.Status = "started"
			ns.Executions++
			ns.StartedAt = &ts
		case schema.EventNodeCompleted:
			ns.Status = "completed"
			ns.CompletedAt = &ts
		case schema.EventNodeFailed:
			ns.Status = "failed"
			ns.CompletedAt = &ts
			ns.Error = e.Payload
		case schema.EventNodeSkipped:
			ns.Status = "skipped"
		}
	}
	return states, nil
}

// Follow appends every event received on ch until ch closes or ctx ends.
// Append failures are logged and do not stop the loop.
func (el *EventLog) Follow(ctx context.Context, ch <-chan streaming.RunEvent, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e := &Event{
				RunID:      ev.RunID,
				WorkflowID: ev.WorkflowID,
				Node:       ev.Node,
				Type:       ev.Type,
				Timestamp:  ev.Timestamp,
			}
			if ev.Payload != nil {
				if raw, err := json.Marshal(ev.Payload); err == nil {
					e.Payload = raw
				}
			}
			if err := el.Append(context.WithoutCancel(ctx), e); err != nil {
				logger.WarnContext(ctx, "event log append failed",
					"run_id", ev.RunID,
					"event", ev.Type,
					"error", err.Error(),
				)
			}
		}
	}
}
