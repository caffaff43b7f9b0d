package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultMaxNodeExecutions caps node executions per run when Config leaves it unset.
const DefaultMaxNodeExecutions = 10000

// NodeLookup resolves node type names. *nodes.Registry satisfies it.
type NodeLookup interface {
	Get(name string) (nodes.NodeType, error)
}

// Config holds executor limits. Zero durations disable the corresponding timeout.
type Config struct {
	MaxNodeExecutions int
	NodeTimeout       time.Duration
	RunTimeout        time.Duration
}

// RunOptions parameterizes one Execute call.
type RunOptions struct {
	RunID       string // generated when empty
	WorkflowID  string // defaults to the graph ID
	Destination string // run only what is needed to reach this node
	SeedData    schema.Items
}

// WorkflowExecutor runs workflow graphs. It holds no per-run state and is safe
// for concurrent Execute calls.
type WorkflowExecutor struct {
	registry NodeLookup
	engine   *expressions.ExprEngine
	config   Config
	logger   *slog.Logger
	hub      streaming.EventHub
}

// NewWorkflowExecutor creates an executor. logger and hub may be nil.
func NewWorkflowExecutor(registry NodeLookup, cfg Config, logger *slog.Logger, hub streaming.EventHub) *WorkflowExecutor {
	if cfg.MaxNodeExecutions <= 0 {
		cfg.MaxNodeExecutions = DefaultMaxNodeExecutions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowExecutor{
		registry: registry,
		engine:   expressions.NewDefaultEngine(),
		config:   cfg,
		logger:   logger,
		hub:      hub,
	}
}

// queueEntry is one pending node execution.
type queueEntry struct {
	node   string
	input  map[int]schema.Items
	source *SourceConnection
}

// preparedRun is the configuration checked before any node runs.
type preparedRun struct {
	graph   *Graph
	types   map[string]nodes.NodeType
	allowed map[string]bool // nil when no destination is set
}

// Execute runs def and returns its run record.
//
// Configuration problems (malformed graph, cycle, unknown node type, unknown
// destination) are reported before any node runs and yield a nil record.
// A node failure stops the run; the record is returned together with the error.
func (e *WorkflowExecutor) Execute(ctx context.Context, def *schema.Graph, opts RunOptions) (*RunExecutionData, error) {
	prep, err := e.prepare(def, opts.Destination)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	workflowID := opts.WorkflowID
	if workflowID == "" {
		workflowID = def.ID
	}

	ctx = logging.WithRunID(ctx, runID)
	if workflowID != "" {
		ctx = logging.WithWorkflowID(ctx, workflowID)
	}
	if e.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RunTimeout)
		defer cancel()
	}

	run := newRunExecutionData(runID, workflowID, opts.Destination)
	fsm := NewRunFSM(runID, workflowID, e.hub)
	if err := fsm.Transition(ctx, schema.RunStatusRunning, map[string]any{"destination": opts.Destination}); err != nil {
		return nil, err
	}
	run.Status = schema.RunStatusRunning
	e.logger.InfoContext(ctx, "run started", "nodes", len(def.Nodes), "destination", opts.Destination)

	runErr := e.loop(ctx, prep, run, opts)

	finished := time.Now().UTC()
	run.FinishedAt = &finished

	if runErr != nil {
		run.ResultData.Error = runErr
		run.Status = schema.RunStatusFailed
		_ = fsm.Transition(ctx, schema.RunStatusFailed, map[string]any{"error": runErr})
		e.logger.ErrorContext(ctx, "run failed", "error", runErr.Error(), "last_node", run.ResultData.LastNodeExecuted)
		return run, runErr
	}

	run.Status = schema.RunStatusSucceeded
	_ = fsm.Transition(ctx, schema.RunStatusSucceeded, nil)
	e.logger.InfoContext(ctx, "run succeeded",
		"executions", len(run.ResultData.ExecutionOrder),
		"duration_ms", finished.Sub(run.StartedAt).Milliseconds(),
	)
	return run, nil
}

// Validate runs the pre-execution checks without executing anything.
func (e *WorkflowExecutor) Validate(def *schema.Graph, destination string) error {
	_, err := e.prepare(def, destination)
	return err
}

func (e *WorkflowExecutor) prepare(def *schema.Graph, destination string) (*preparedRun, error) {
	g, err := BuildGraph(def)
	if err != nil {
		return nil, err
	}

	types := make(map[string]nodes.NodeType, len(def.Nodes))
	for _, node := range def.Nodes {
		if node.Disabled {
			continue
		}
		nt, err := e.registry.Get(node.Type)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType,
				"node %s has unknown type %q", node.Name, node.Type).
				WithNode(node.Name).
				WithCause(err).
				WithDetails(map[string]any{"type": node.Type})
		}
		types[node.Name] = nt
	}

	if err := checkPorts(def, types); err != nil {
		return nil, err
	}

	prep := &preparedRun{graph: g, types: types}
	if destination != "" {
		if _, ok := g.Node(destination); !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "destination node %q not found", destination)
		}
		prep.allowed = g.Ancestors(destination)
	}
	return prep, nil
}

// checkPorts verifies connections against the declared port counts of enabled nodes.
func checkPorts(def *schema.Graph, types map[string]nodes.NodeType) error {
	for source, byType := range def.Connections {
		if nt, ok := types[source]; ok {
			outputs := nt.Describe().Outputs
			for port, conns := range byType[schema.MainPort] {
				if len(conns) > 0 && port >= outputs {
					return schema.NewErrorf(schema.ErrCodeValidation,
						"node %s has no output %d (declares %d)", source, port, outputs).WithNode(source)
				}
			}
		}
		for _, conns := range byType[schema.MainPort] {
			for _, c := range conns {
				nt, ok := types[c.Node]
				if !ok {
					continue
				}
				if inputs := nt.Describe().Inputs; c.Index >= inputs {
					return schema.NewErrorf(schema.ErrCodeValidation,
						"node %s has no input %d (declares %d)", c.Node, c.Index, inputs).WithNode(c.Node)
				}
			}
		}
	}
	return nil
}

func (e *WorkflowExecutor) loop(ctx context.Context, prep *preparedRun, run *RunExecutionData, opts RunOptions) *schema.FlowError {
	scope := expressions.NewOutputScope()
	evaluator := expressions.NewEvaluator(e.engine, scope, e.logger)

	queue := make([]queueEntry, 0, len(prep.graph.Entries))
	for _, name := range prep.graph.Entries {
		if prep.allowed != nil && !prep.allowed[name] {
			continue
		}
		queue = append(queue, queueEntry{
			node:  name,
			input: map[int]schema.Items{0: cloneItems(opts.SeedData)},
		})
	}

	executions := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return contextError(err, "")
		}

		entry := queue[0]
		queue = queue[1:]
		node, _ := prep.graph.Node(entry.node)

		if node.Disabled {
			e.logger.DebugContext(ctx, "node skipped", "node", node.Name, "reason", "disabled")
			e.publish(ctx, run, node.Name, schema.EventNodeSkipped, nil)
			continue
		}

		executions++
		if executions > e.config.MaxNodeExecutions {
			return schema.NewErrorf(schema.ErrCodeExecutionLimit,
				"run exceeded %d node executions", e.config.MaxNodeExecutions).
				WithNode(node.Name)
		}

		var seed schema.Items
		if entry.source == nil {
			seed = opts.SeedData
		}
		task, outputs, nodeErr := e.runNode(ctx, prep.types[node.Name], node, entry, evaluator, seed, run)

		run.ResultData.RunData[node.Name] = append(run.ResultData.RunData[node.Name], task)
		run.ResultData.ExecutionOrder = append(run.ResultData.ExecutionOrder, node.Name)
		run.ResultData.LastNodeExecuted = node.Name

		if nodeErr != nil {
			return nodeErr
		}

		scope.Record(node.Name, flatten(outputs))

		// Every declared connection fires, even when its port produced no items.
		for port, conns := range prep.graph.Def.Connections.Outputs(node.Name, schema.MainPort) {
			var items schema.Items
			if port < len(outputs) {
				items = outputs[port]
			}
			for _, c := range conns {
				if prep.allowed != nil && !prep.allowed[c.Node] {
					continue
				}
				queue = append(queue, queueEntry{
					node:   c.Node,
					input:  map[int]schema.Items{c.Index: cloneItems(items)},
					source: &SourceConnection{Node: node.Name, OutputIndex: port, InputIndex: c.Index},
				})
			}
		}
	}
	return nil
}

// runNode executes one queue entry and builds its TaskData.
func (e *WorkflowExecutor) runNode(
	ctx context.Context,
	nt nodes.NodeType,
	node *schema.Node,
	entry queueEntry,
	evaluator *expressions.Evaluator,
	seed schema.Items,
	run *RunExecutionData,
) (TaskData, []schema.Items, *schema.FlowError) {
	nodeCtx := logging.WithNode(ctx, node.Name)
	if e.config.NodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(nodeCtx, e.config.NodeTimeout)
		defer cancel()
	}

	logger := logging.LogWith(nodeCtx, e.logger)
	inv := nodes.NewInvocation(node, entry.input, evaluator, seed, logger)

	e.publish(nodeCtx, run, node.Name, schema.EventNodeStarted, nil)
	logger.DebugContext(nodeCtx, "node started", "type", node.Type, "input_items", len(inv.InputData(0)))

	start := time.Now()
	outputs, err := safeExecute(nodeCtx, nt, inv)
	if err == nil && nodeCtx.Err() != nil {
		err = nodeCtx.Err()
	}
	elapsed := time.Since(start)

	task := TaskData{
		StartTime:     start.UTC(),
		ExecutionTime: elapsed.Milliseconds(),
		Source:        entry.source,
		Data:          outputs,
	}
	if task.Data == nil {
		task.Data = []schema.Items{}
	}

	if err != nil {
		flowErr := nodeError(node, err, nodeCtx.Err())
		task.Data = []schema.Items{}
		task.Error = flowErr
		logger.ErrorContext(nodeCtx, "node failed", "type", node.Type, "error", err.Error())
		e.publish(nodeCtx, run, node.Name, schema.EventNodeFailed, map[string]any{"error": flowErr})
		return task, nil, flowErr
	}

	logger.DebugContext(nodeCtx, "node completed",
		"type", node.Type,
		"output_items", countItems(outputs),
		"duration_ms", elapsed.Milliseconds(),
	)
	e.publish(nodeCtx, run, node.Name, schema.EventNodeCompleted, map[string]any{"items": countItems(outputs)})
	return task, outputs, nil
}

// safeExecute converts a panicking node into an execution error.
func safeExecute(ctx context.Context, nt nodes.NodeType, ec nodes.ExecuteContext) (out []schema.Items, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "node panicked: %v", r)
		}
	}()
	return nt.Execute(ctx, ec)
}

// nodeError wraps a node failure. Deadline and cancellation keep their own codes;
// everything else becomes NODE_FAILED with the original code in details.
func nodeError(node *schema.Node, err error, ctxErr error) *schema.FlowError {
	if ctxErr != nil {
		return contextError(ctxErr, node.Name).WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contextError(err, node.Name)
	}

	details := map[string]any{"type": node.Type}
	if code := schema.CodeOf(err); code != "" {
		details["code"] = code
	}
	return schema.NewErrorf(schema.ErrCodeNodeFailed, "%s", err.Error()).
		WithNode(node.Name).
		WithCause(err).
		WithDetails(details)
}

func contextError(err error, node string) *schema.FlowError {
	var fe *schema.FlowError
	if errors.Is(err, context.DeadlineExceeded) {
		fe = schema.NewError(schema.ErrCodeTimeout, "deadline exceeded")
	} else {
		fe = schema.NewError(schema.ErrCodeCancelled, "run cancelled")
	}
	fe.WithCause(err)
	if node != "" {
		fe.WithNode(node)
	}
	return fe
}

func (e *WorkflowExecutor) publish(ctx context.Context, run *RunExecutionData, node, eventType string, payload any) {
	if e.hub == nil {
		return
	}
	err := e.hub.Publish(context.WithoutCancel(ctx), streaming.RunEvent{
		RunID:      run.RunID,
		WorkflowID: run.WorkflowID,
		Node:       node,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		e.logger.DebugContext(ctx, "event publish failed", "event", eventType, "error", err.Error())
	}
}

func flatten(outputs []schema.Items) schema.Items {
	var all schema.Items
	for _, items := range outputs {
		all = append(all, items...)
	}
	return all
}

func countItems(outputs []schema.Items) int {
	n := 0
	for _, items := range outputs {
		n += len(items)
	}
	return n
}

func cloneItems(items schema.Items) schema.Items {
	out := make(schema.Items, len(items))
	for i, it := range items {
		cp, _ := expressions.CloneValue(map[string]any(it)).(map[string]any)
		out[i] = cp
	}
	return out
}

// String renders a one-line summary of the run, used by the CLI.
func (r *RunExecutionData) String() string {
	return fmt.Sprintf("run %s: %s (%d node executions, last %q)",
		r.RunID, r.Status, len(r.ResultData.ExecutionOrder), r.ResultData.LastNodeExecuted)
}
