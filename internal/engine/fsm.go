package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.RunStatus) error

// ValidRunTransitions defines the allowed state transitions for a run.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusIdle:      {schema.RunStatusRunning},
	schema.RunStatusRunning:   {schema.RunStatusSucceeded, schema.RunStatusFailed},
	schema.RunStatusSucceeded: {},
	schema.RunStatusFailed:    {},
}

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages the lifecycle of one run: idle -> running -> succeeded | failed.
// Transitions are published to the optional event hub.
type RunFSM struct {
	mu         sync.Mutex
	state      schema.RunStatus
	runID      string
	workflowID string
	hub        streaming.EventHub
	before     map[runHookKey][]TransitionHook
	after      map[runHookKey][]TransitionHook
}

// NewRunFSM creates an FSM in the idle state. hub may be nil.
func NewRunFSM(runID, workflowID string, hub streaming.EventHub) *RunFSM {
	return &RunFSM{
		state:      schema.RunStatusIdle,
		runID:      runID,
		workflowID: workflowID,
		hub:        hub,
		before:     make(map[runHookKey][]TransitionHook),
		after:      make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// State returns the current state.
func (f *RunFSM) State() schema.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transition moves the run to state to. A failing before hook aborts the transition.
func (f *RunFSM) Transition(ctx context.Context, to schema.RunStatus, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.state
	if !slices.Contains(ValidRunTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": f.runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	f.state = to

	if eventType := runEventType(to); eventType != "" && f.hub != nil {
		// Publishing is best effort: a cancelled run must still reach a terminal state.
		_ = f.hub.Publish(context.WithoutCancel(ctx), streaming.RunEvent{
			RunID:      f.runID,
			WorkflowID: f.workflowID,
			Type:       eventType,
			Timestamp:  time.Now().UTC(),
			Payload:    payload,
		})
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusSucceeded:
		return schema.EventRunSucceeded
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}
