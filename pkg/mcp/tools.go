package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

const defaultRunsLimit = 50

// handleRun executes an inline graph or a saved workflow.
func (s *NodeflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.executor == nil {
		return mcp.NewToolResultError("no executor configured"), nil
	}

	def, workflowID, errResult := s.resolveGraph(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	seed, err := parseSeed(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid seed: %v", err)), nil
	}

	save := workflowID != "" || req.GetBool("save", false)
	if save && s.store == nil {
		return mcp.NewToolResultError("cannot save run: no store configured"), nil
	}

	runID := uuid.NewString()
	if s.hub != nil {
		s.captureSession(ctx, runID)
	}

	rec, runErr := s.executor.Execute(ctx, def, engine.RunOptions{
		RunID:       runID,
		WorkflowID:  workflowID,
		Destination: req.GetString("destination", ""),
		SeedData:    seed,
	})
	if rec == nil {
		// Configuration errors stop the run before it starts.
		s.sessions.Remove(runID)
		return mcp.NewToolResultError(fmt.Sprintf("run rejected: %v", runErr)), nil
	}

	if save {
		run, convErr := store.NewRun(rec, store.TriggerMCP)
		if convErr == nil {
			convErr = s.store.CreateRun(ctx, run)
		}
		if convErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run %s finished but could not be saved: %v", rec.RunID, convErr)), nil
		}
	}

	s.logger.InfoContext(ctx, "mcp run finished",
		"run_id", rec.RunID,
		"workflow_id", workflowID,
		"status", rec.Status,
		"saved", save,
	)

	if runErr != nil {
		return marshalError(rec)
	}
	return marshalResult(rec)
}

// handleValidate runs the validation pipeline over a graph.
func (s *NodeflowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.validator == nil {
		return mcp.NewToolResultError("no validator configured"), nil
	}

	def, _, errResult := s.resolveGraph(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	vr := s.validator.Validate(def)
	return marshalResult(map[string]any{
		"valid":    vr.Valid(),
		"errors":   vr.Errors,
		"warnings": vr.Warnings,
	})
}

// handleNodes lists node types, or describes one.
func (s *NodeflowServer) handleNodes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.nodes == nil {
		return mcp.NewToolResultError("no node registry configured"), nil
	}

	if name := req.GetString("name", ""); name != "" {
		desc, ok := s.nodes.Describe(name)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown node type %q", name)), nil
		}
		return marshalResult(desc)
	}
	return marshalResult(map[string]any{"nodes": s.nodes.List()})
}

// handleDefine validates and saves a workflow, then schedules it when a cron
// expression is given.
func (s *NodeflowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}

	raw := mcp.ParseStringMap(req, "graph", nil)
	if raw == nil {
		return mcp.NewToolResultError("graph is required"), nil
	}
	def, err := decodeGraph(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err)), nil
	}

	cronExpr := req.GetString("cron", "")
	if cronExpr != "" && s.scheduler == nil {
		return mcp.NewToolResultError("cannot schedule: no scheduler configured"), nil
	}
	seed, err := parseSeed(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid seed: %v", err)), nil
	}

	var warnings []schema.ValidationIssue
	if s.validator != nil {
		vr := s.validator.Validate(def)
		if !vr.Valid() {
			return marshalError(map[string]any{"valid": false, "errors": vr.Errors, "warnings": vr.Warnings})
		}
		warnings = vr.Warnings
	}

	id := req.GetString("id", def.ID)
	if id == "" {
		id = uuid.NewString()
	}
	name := req.GetString("name", def.Name)
	def.ID, def.Name = id, name

	now := time.Now().UTC()
	wf := &store.Workflow{
		ID:        id,
		Name:      name,
		Graph:     *def,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save workflow: %v", err)), nil
	}

	out := map[string]any{
		"id":    id,
		"name":  name,
		"nodes": len(def.Nodes),
	}
	if len(warnings) > 0 {
		out["warnings"] = warnings
	}

	if cronExpr != "" {
		sched, err := s.scheduler.AddSchedule(ctx, id, cronExpr, seed)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow %s saved but not scheduled: %v", id, err)), nil
		}
		out["schedule"] = sched
	}

	return marshalResult(out)
}

// handleRuns returns one run with its node states, or a filtered run list.
func (s *NodeflowServer) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}

	if runID := req.GetString("run_id", ""); runID != "" {
		return s.getRun(ctx, runID)
	}

	filter := store.RunFilter{
		WorkflowID: req.GetString("workflow_id", ""),
		Status:     schema.RunStatus(req.GetString("status", "")),
		Trigger:    req.GetString("trigger", ""),
		Limit:      req.GetInt("limit", defaultRunsLimit),
	}
	if since := req.GetString("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since: %v", err)), nil
		}
		filter.Since = &t
	}

	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	summaries := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, summarize(r))
	}
	return marshalResult(map[string]any{"runs": summaries})
}

func (s *NodeflowServer) getRun(ctx context.Context, runID string) (*mcp.CallToolResult, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
	}
	rec, err := run.Decode()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("corrupt run record: %v", err)), nil
	}

	out := map[string]any{
		"trigger": run.Trigger,
		"run":     rec,
	}
	if s.events != nil {
		states, err := s.events.Replay(ctx, runID)
		if err != nil {
			s.logger.WarnContext(ctx, "run event replay failed", "run_id", runID, "error", err.Error())
		} else if len(states) > 0 {
			out["nodes"] = states
		}
	}
	return marshalResult(out)
}

// handleDiagram draws a graph as ASCII, Mermaid, or a base64 PNG, with an
// optional run outcome overlaid.
func (s *NodeflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	def, _, errResult := s.resolveGraph(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	var rec *engine.RunExecutionData
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("cannot load run: no store configured"), nil
		}
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
		if rec, err = run.Decode(); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("corrupt run record: %v", err)), nil
		}
	}

	model, err := diagram.Build(def, rec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, err := diagram.RenderImage(ctx, model)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// --- Internal helpers ---

// runSummary is the list view of a stored run; the full record is fetched by run_id.
type runSummary struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id,omitempty"`
	Status           schema.RunStatus `json:"status"`
	Trigger          string           `json:"trigger"`
	Destination      string           `json:"destination,omitempty"`
	LastNodeExecuted string           `json:"last_node_executed,omitempty"`
	Error            json.RawMessage  `json:"error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty"`
}

func summarize(r *store.Run) runSummary {
	return runSummary{
		ID:               r.ID,
		WorkflowID:       r.WorkflowID,
		Status:           r.Status,
		Trigger:          r.Trigger,
		Destination:      r.Destination,
		LastNodeExecuted: r.LastNodeExecuted,
		Error:            r.Error,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
	}
}

// resolveGraph loads the saved workflow named by workflow_id, or decodes the
// inline graph argument. The returned workflow ID is empty for inline graphs.
func (s *NodeflowServer) resolveGraph(ctx context.Context, req mcp.CallToolRequest) (*schema.Graph, string, *mcp.CallToolResult) {
	if workflowID := req.GetString("workflow_id", ""); workflowID != "" {
		if s.store == nil {
			return nil, "", mcp.NewToolResultError("cannot load workflow: no store configured")
		}
		wf, err := s.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return nil, "", mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err))
		}
		return &wf.Graph, wf.ID, nil
	}

	raw := mcp.ParseStringMap(req, "graph", nil)
	if raw == nil {
		return nil, "", mcp.NewToolResultError("either workflow_id or graph is required")
	}
	def, err := decodeGraph(raw)
	if err != nil {
		return nil, "", mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err))
	}
	return def, "", nil
}

// decodeGraph round-trips a generic argument map into a Graph.
func decodeGraph(raw map[string]any) (*schema.Graph, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var def schema.Graph
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// parseSeed reads the optional seed argument as a record or a list of records.
func parseSeed(req mcp.CallToolRequest) (schema.Items, error) {
	v, ok := req.GetArguments()["seed"]
	if !ok || v == nil {
		return nil, nil
	}
	return schema.NormalizeItems(v)
}

// captureSession maps the run ID to the caller's MCP session for notifications.
func (s *NodeflowServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// marshalError is marshalResult flagged as a tool error.
func marshalError(v any) (*mcp.CallToolResult, error) {
	result, err := marshalResult(v)
	if err == nil {
		result.IsError = true
	}
	return result, err
}
