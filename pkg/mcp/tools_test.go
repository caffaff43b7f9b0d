package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	workflows map[string]*store.Workflow
	runs      []*store.Run
	saveErr   error
}

func newMockStore() *mockStore {
	return &mockStore{workflows: make(map[string]*store.Workflow)}
}

func (m *mockStore) SaveWorkflow(_ context.Context, wf *store.Workflow) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.workflows[wf.ID] = wf
	return nil
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (*store.Workflow, error) {
	if wf, ok := m.workflows[id]; ok {
		return wf, nil
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found")
}

func (m *mockStore) CreateRun(_ context.Context, run *store.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*store.Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "run not found")
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]*store.Run, error) {
	result := make([]*store.Run, 0)
	for _, r := range m.runs {
		if filter.WorkflowID != "" && r.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Trigger != "" && r.Trigger != filter.Trigger {
			continue
		}
		if filter.Since != nil && r.StartedAt.Before(*filter.Since) {
			continue
		}
		result = append(result, r)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// --- Mock Scheduler ---

type mockScheduler struct {
	workflowID string
	cron       string
	seed       schema.Items
	err        error
}

func (m *mockScheduler) AddSchedule(_ context.Context, workflowID, cronExpr string, seed schema.Items) (*store.Schedule, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.workflowID, m.cron, m.seed = workflowID, cronExpr, seed
	next := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	return &store.Schedule{
		ID:             "sched-1",
		WorkflowID:     workflowID,
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
	}, nil
}

// --- Mock Replayer ---

type mockReplayer struct {
	states map[string]*store.NodeState
	err    error
}

func (m *mockReplayer) Replay(context.Context, string) (map[string]*store.NodeState, error) {
	return m.states, m.err
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// greetingGraph returns a fresh manual trigger → set graph as tool arguments.
func greetingGraph() map[string]any {
	return map[string]any{
		"id":   "wf-greet",
		"name": "greet",
		"nodes": []any{
			map[string]any{"name": "Start", "type": "trigger.manual"},
			map[string]any{"name": "Greet", "type": "set", "parameters": map[string]any{
				"values": map[string]any{"string": []any{
					map[string]any{"name": "greeting", "value": "hello"},
				}},
			}},
		},
		"connections": map[string]any{
			"Start": map[string]any{"main": []any{[]any{
				map[string]any{"node": "Greet", "type": "main", "index": 0},
			}}},
		},
	}
}

func failingGraph() map[string]any {
	return map[string]any{
		"nodes": []any{
			map[string]any{"name": "Start", "type": "trigger.manual"},
			map[string]any{"name": "Boom", "type": "code", "parameters": map[string]any{
				"code": `fail("boom")`,
			}},
		},
		"connections": map[string]any{
			"Start": map[string]any{"main": []any{[]any{
				map[string]any{"node": "Boom", "type": "main", "index": 0},
			}}},
		},
	}
}

type testEnv struct {
	server    *NodeflowServer
	store     *mockStore
	scheduler *mockScheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg, err := nodes.NewBuiltinRegistry(nodes.BuiltinConfig{})
	require.NoError(t, err)
	validator, err := validation.NewWorkflowValidator(reg)
	require.NoError(t, err)

	ms := newMockStore()
	sched := &mockScheduler{}
	s := NewNodeflowServer(NodeflowServerDeps{
		Executor:  engine.NewWorkflowExecutor(reg, engine.Config{}, nil, nil),
		Validator: validator,
		Nodes:     reg,
		Store:     ms,
		Scheduler: sched,
	})
	return &testEnv{server: s, store: ms, scheduler: sched}
}

// --- nodeflow.run ---

func TestRunTool_InlineGraph(t *testing.T) {
	env := newTestEnv(t)

	req := buildRequest("nodeflow.run", map[string]any{
		"graph": greetingGraph(),
		"seed":  []any{map[string]any{"who": "ada"}},
	})

	result, err := env.server.handleRun(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError, extractText(t, result))

	var rec engine.RunExecutionData
	unmarshalResult(t, result, &rec)
	assert.Equal(t, schema.RunStatusSucceeded, rec.Status)
	assert.NotEmpty(t, rec.RunID)

	greet := rec.ResultData.RunData["Greet"]
	require.Len(t, greet, 1)
	require.Len(t, greet[0].Data[0], 1)
	assert.Equal(t, "ada", greet[0].Data[0][0]["who"])
	assert.Equal(t, "hello", greet[0].Data[0][0]["greeting"])

	// Inline runs are not persisted unless asked.
	assert.Empty(t, env.store.runs)
}

func TestRunTool_SaveInlineRun(t *testing.T) {
	env := newTestEnv(t)

	req := buildRequest("nodeflow.run", map[string]any{
		"graph": greetingGraph(),
		"save":  true,
	})

	result, err := env.server.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, env.store.runs, 1)
	assert.Equal(t, store.TriggerMCP, env.store.runs[0].Trigger)
	assert.Equal(t, schema.RunStatusSucceeded, env.store.runs[0].Status)
}

func TestRunTool_SavedWorkflow(t *testing.T) {
	env := newTestEnv(t)
	def, err := decodeGraph(greetingGraph())
	require.NoError(t, err)
	env.store.workflows["wf-greet"] = &store.Workflow{ID: "wf-greet", Graph: *def}

	req := buildRequest("nodeflow.run", map[string]any{"workflow_id": "wf-greet"})
	result, err := env.server.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, env.store.runs, 1)
	assert.Equal(t, "wf-greet", env.store.runs[0].WorkflowID)
	assert.Equal(t, store.TriggerMCP, env.store.runs[0].Trigger)
}

func TestRunTool_Destination(t *testing.T) {
	env := newTestEnv(t)

	req := buildRequest("nodeflow.run", map[string]any{
		"graph":       greetingGraph(),
		"destination": "Start",
	})
	result, err := env.server.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var rec engine.RunExecutionData
	unmarshalResult(t, result, &rec)
	assert.Equal(t, []string{"Start"}, rec.ResultData.ExecutionOrder)
}

func TestRunTool_FailedRunIsError(t *testing.T) {
	env := newTestEnv(t)

	req := buildRequest("nodeflow.run", map[string]any{"graph": failingGraph(), "save": true})
	result, err := env.server.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var rec engine.RunExecutionData
	unmarshalResult(t, result, &rec)
	assert.Equal(t, schema.RunStatusFailed, rec.Status)
	require.NotNil(t, rec.ResultData.Error)
	assert.Equal(t, "Boom", rec.ResultData.LastNodeExecuted)

	// Failed runs are still persisted.
	require.Len(t, env.store.runs, 1)
	assert.Equal(t, schema.RunStatusFailed, env.store.runs[0].Status)
}

func TestRunTool_UnknownNodeTypeRejected(t *testing.T) {
	env := newTestEnv(t)
	graph := greetingGraph()
	graph["nodes"].([]any)[1].(map[string]any)["type"] = "does.not.exist"

	result, err := env.server.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{"graph": graph}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeUnknownNodeType)
	assert.Equal(t, 0, env.server.Sessions().Len())
}

func TestRunTool_MissingParams(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = env.server.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{"workflow_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunTool_NoExecutor(t *testing.T) {
	s := NewNodeflowServer(NodeflowServerDeps{})

	result, err := s.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{"graph": greetingGraph()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunTool_SaveWithoutStore(t *testing.T) {
	reg, err := nodes.NewBuiltinRegistry(nodes.BuiltinConfig{})
	require.NoError(t, err)
	s := NewNodeflowServer(NodeflowServerDeps{
		Executor: engine.NewWorkflowExecutor(reg, engine.Config{}, nil, nil),
	})

	result, err := s.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{
		"graph": greetingGraph(),
		"save":  true,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "no store configured")
}

// --- nodeflow.validate ---

func TestValidateTool_Valid(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{
		"graph": greetingGraph(),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Valid  bool                     `json:"valid"`
		Errors []schema.ValidationIssue `json:"errors"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
	assert.Empty(t, out.Errors)
}

func TestValidateTool_ReportsErrors(t *testing.T) {
	env := newTestEnv(t)
	graph := greetingGraph()
	graph["connections"] = map[string]any{
		"Start": map[string]any{"main": []any{[]any{
			map[string]any{"node": "Nowhere", "type": "main", "index": 0},
		}}},
	}

	result, err := env.server.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{
		"graph": graph,
	}))
	require.NoError(t, err)

	var out struct {
		Valid  bool                     `json:"valid"`
		Errors []schema.ValidationIssue `json:"errors"`
	}
	unmarshalResult(t, result, &out)
	assert.False(t, out.Valid)
	require.NotEmpty(t, out.Errors)
	assert.Equal(t, schema.ErrCodeNotFound, out.Errors[0].Code)
}

func TestValidateTool_NoValidator(t *testing.T) {
	s := NewNodeflowServer(NodeflowServerDeps{})

	result, err := s.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{"graph": greetingGraph()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- nodeflow.nodes ---

func TestNodesTool_List(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleNodes(context.Background(), buildRequest("nodeflow.nodes", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Nodes []nodes.Info `json:"nodes"`
	}
	unmarshalResult(t, result, &out)

	names := make([]string, 0, len(out.Nodes))
	for _, n := range out.Nodes {
		names = append(names, n.Name)
	}
	assert.True(t, sort.StringsAreSorted(names))
	assert.ElementsMatch(t, []string{"call.outbound", "code", "http.request", "if", "set", "trigger.manual"}, names)
}

func TestNodesTool_Describe(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleNodes(context.Background(), buildRequest("nodeflow.nodes", map[string]any{"name": "if"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var desc nodes.Descriptor
	unmarshalResult(t, result, &desc)
	assert.Equal(t, "if", desc.Name)
	assert.Equal(t, 2, desc.Outputs)
}

func TestNodesTool_UnknownName(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleNodes(context.Background(), buildRequest("nodeflow.nodes", map[string]any{"name": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- nodeflow.define ---

func TestDefineTool(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{
		"graph": greetingGraph(),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, extractText(t, result))

	text := extractText(t, result)
	assert.Contains(t, text, "wf-greet")

	wf, ok := env.store.workflows["wf-greet"]
	require.True(t, ok)
	assert.Equal(t, "greet", wf.Name)
	assert.Len(t, wf.Graph.Nodes, 2)
	assert.Empty(t, env.scheduler.cron, "no schedule without cron")
}

func TestDefineTool_OverridesIDAndName(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{
		"graph": greetingGraph(),
		"id":    "custom",
		"name":  "Custom Flow",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	wf, ok := env.store.workflows["custom"]
	require.True(t, ok)
	assert.Equal(t, "Custom Flow", wf.Name)
	assert.Equal(t, "custom", wf.Graph.ID)
}

func TestDefineTool_GeneratesID(t *testing.T) {
	env := newTestEnv(t)
	graph := greetingGraph()
	delete(graph, "id")

	result, err := env.server.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{"graph": graph}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	id, _ := out["id"].(string)
	assert.NotEmpty(t, id)
	assert.Contains(t, env.store.workflows, id)
}

func TestDefineTool_WithSchedule(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{
		"graph": greetingGraph(),
		"cron":  "0 * * * *",
		"seed":  map[string]any{"who": "grace"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, "wf-greet", env.scheduler.workflowID)
	assert.Equal(t, "0 * * * *", env.scheduler.cron)
	require.Len(t, env.scheduler.seed, 1)
	assert.Equal(t, "grace", env.scheduler.seed[0]["who"])

	assert.Contains(t, extractText(t, result), "sched-1")
}

func TestDefineTool_ScheduleError(t *testing.T) {
	env := newTestEnv(t)
	env.scheduler.err = schema.NewError(schema.ErrCodeValidation, "bad cron")

	result, err := env.server.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{
		"graph": greetingGraph(),
		"cron":  "whenever",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "saved but not scheduled")
	assert.Contains(t, env.store.workflows, "wf-greet")
}

func TestDefineTool_InvalidGraphNotSaved(t *testing.T) {
	env := newTestEnv(t)
	graph := greetingGraph()
	graph["nodes"].([]any)[1].(map[string]any)["type"] = "does.not.exist"

	result, err := env.server.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{"graph": graph}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeUnknownNodeType)
	assert.Empty(t, env.store.workflows)
}

func TestDefineTool_MissingGraph(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineTool_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.saveErr = errors.New("disk full")

	result, err := env.server.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{"graph": greetingGraph()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "disk full")
}

// --- nodeflow.runs ---

func seedRuns(t *testing.T, env *testEnv) {
	t.Helper()
	for _, args := range []map[string]any{
		{"graph": greetingGraph(), "save": true},
		{"graph": failingGraph(), "save": true},
	} {
		_, err := env.server.handleRun(context.Background(), buildRequest("nodeflow.run", args))
		require.NoError(t, err)
	}
	require.Len(t, env.store.runs, 2)
}

func TestRunsTool_List(t *testing.T) {
	env := newTestEnv(t)
	seedRuns(t, env)

	result, err := env.server.handleRuns(context.Background(), buildRequest("nodeflow.runs", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Runs []runSummary `json:"runs"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Runs, 2)
	assert.Equal(t, store.TriggerMCP, out.Runs[0].Trigger)
}

func TestRunsTool_FilterByStatus(t *testing.T) {
	env := newTestEnv(t)
	seedRuns(t, env)

	result, err := env.server.handleRuns(context.Background(), buildRequest("nodeflow.runs", map[string]any{
		"status": "failed",
		"limit":  float64(10),
	}))
	require.NoError(t, err)

	var out struct {
		Runs []runSummary `json:"runs"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Runs, 1)
	assert.Equal(t, schema.RunStatusFailed, out.Runs[0].Status)
	assert.Equal(t, "Boom", out.Runs[0].LastNodeExecuted)
	assert.NotEmpty(t, out.Runs[0].Error)
}

func TestRunsTool_InvalidSince(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleRuns(context.Background(), buildRequest("nodeflow.runs", map[string]any{"since": "yesterday"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunsTool_GetRunWithNodeStates(t *testing.T) {
	env := newTestEnv(t)
	seedRuns(t, env)
	env.server.events = &mockReplayer{states: map[string]*store.NodeState{
		"Start": {Node: "Start", Status: "completed", Executions: 1},
	}}

	runID := env.store.runs[0].ID
	result, err := env.server.handleRuns(context.Background(), buildRequest("nodeflow.runs", map[string]any{"run_id": runID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Trigger string                      `json:"trigger"`
		Run     engine.RunExecutionData     `json:"run"`
		Nodes   map[string]*store.NodeState `json:"nodes"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, store.TriggerMCP, out.Trigger)
	assert.Equal(t, runID, out.Run.RunID)
	require.Contains(t, out.Nodes, "Start")
	assert.Equal(t, "completed", out.Nodes["Start"].Status)
}

func TestRunsTool_ReplayErrorStillReturnsRun(t *testing.T) {
	env := newTestEnv(t)
	seedRuns(t, env)
	env.server.events = &mockReplayer{err: errors.New("gap")}

	result, err := env.server.handleRuns(context.Background(), buildRequest("nodeflow.runs", map[string]any{
		"run_id": env.store.runs[1].ID,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.NotContains(t, extractText(t, result), `"nodes"`)
}

func TestRunsTool_UnknownRun(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleRuns(context.Background(), buildRequest("nodeflow.runs", map[string]any{"run_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunsTool_NoStore(t *testing.T) {
	s := NewNodeflowServer(NodeflowServerDeps{})

	result, err := s.handleRuns(context.Background(), buildRequest("nodeflow.runs", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- nodeflow.diagram ---

func TestDiagramTool_InlineGraphASCII(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleDiagram(context.Background(), buildRequest("nodeflow.diagram", map[string]any{
		"graph":  greetingGraph(),
		"format": "ascii",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "=== greet ===")
	assert.Contains(t, text, "Greet")
}

func TestDiagramTool_SavedWorkflowMermaidWithRun(t *testing.T) {
	env := newTestEnv(t)
	def, err := decodeGraph(failingGraph())
	require.NoError(t, err)
	env.store.workflows["wf-fail"] = &store.Workflow{ID: "wf-fail", Graph: *def}

	runResult, err := env.server.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{"workflow_id": "wf-fail"}))
	require.NoError(t, err)
	require.True(t, runResult.IsError)
	require.Len(t, env.store.runs, 1)

	result, err := env.server.handleDiagram(context.Background(), buildRequest("nodeflow.diagram", map[string]any{
		"workflow_id": "wf-fail",
		"run_id":      env.store.runs[0].ID,
		"format":      "mermaid",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "class n0 completed")
	assert.Contains(t, text, "class n1 failed")
}

func TestDiagramTool_Image(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleDiagram(context.Background(), buildRequest("nodeflow.diagram", map[string]any{
		"graph":  greetingGraph(),
		"format": "image",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	png, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, "\x89PNG", string(png[:4]))
}

func TestDiagramTool_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing format", map[string]any{"graph": greetingGraph()}},
		{"bad format", map[string]any{"graph": greetingGraph(), "format": "svg"}},
		{"missing graph", map[string]any{"format": "ascii"}},
		{"unknown run", map[string]any{"graph": greetingGraph(), "format": "ascii", "run_id": "missing"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := env.server.handleDiagram(context.Background(), buildRequest("nodeflow.diagram", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}
