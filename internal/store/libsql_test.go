package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleGraph() schema.Graph {
	return schema.Graph{
		ID:   "wf-sample",
		Name: "sample",
		Nodes: []schema.Node{
			{Name: "Start", Type: "trigger.manual"},
			{Name: "Set", Type: "set", Parameters: map[string]any{"keepOnlySet": true}},
		},
		Connections: schema.Connections{
			"Start": {"main": {{{Node: "Set", Type: "main", Index: 0}}}},
		},
	}
}

func seedWorkflow(t *testing.T, s *LibSQLStore) *Workflow {
	t.Helper()
	wf := &Workflow{ID: uuid.NewString(), Name: "seeded", Graph: sampleGraph()}
	require.NoError(t, s.SaveWorkflow(context.Background(), wf))
	return wf
}

func sampleRun(workflowID string, status schema.RunStatus, started time.Time) *Run {
	return &Run{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     status,
		Trigger:    TriggerManual,
		Record:     json.RawMessage(`{"runId":"x"}`),
		StartedAt:  started,
	}
}

// --- Migrations ---

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, LatestSchemaVersion(), v)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`
-- leading comment
CREATE TABLE a (x INTEGER);
-- only a comment;

CREATE INDEX i ON a (x);
`)
	assert.Equal(t, []string{"CREATE TABLE a (x INTEGER)", "CREATE INDEX i ON a (x)"}, stmts)
}

func TestVacuum(t *testing.T) {
	assert.NoError(t, newTestStore(t).Vacuum(context.Background()))
}

// --- Workflows ---

func TestSaveAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := seedWorkflow(t, s)
	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, "seeded", got.Name)
	assert.Equal(t, "wf-sample", got.Graph.ID)
	require.Len(t, got.Graph.Nodes, 2)
	assert.Equal(t, true, got.Graph.Nodes[1].Parameters["keepOnlySet"])
	assert.Equal(t, "Set", got.Graph.Connections["Start"]["main"][0][0].Node)
}

func TestSaveWorkflow_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := seedWorkflow(t, s)
	wf.Name = "renamed"
	wf.Graph.Nodes = wf.Graph.Nodes[:1]
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, got.Graph.Nodes, 1)

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveWorkflow_RequiresID(t *testing.T) {
	err := newTestStore(t).SaveWorkflow(context.Background(), &Workflow{Graph: sampleGraph()})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestGetWorkflow_NotFound(t *testing.T) {
	_, err := newTestStore(t).GetWorkflow(context.Background(), "nope")
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

func TestListWorkflows_Limit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		seedWorkflow(t, s)
	}
	got, err := s.ListWorkflows(context.Background(), WorkflowFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))
	_, err := s.GetWorkflow(ctx, wf.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(s.DeleteWorkflow(ctx, wf.ID)))
}

// --- Runs ---

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	finished := time.Now().UTC()
	run := sampleRun("wf-1", schema.RunStatusFailed, finished.Add(-time.Second))
	run.Destination = "Set"
	run.Error = json.RawMessage(`{"code":"NODE_FAILED"}`)
	run.LastNodeExecuted = "Set"
	run.FinishedAt = &finished
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Equal(t, TriggerManual, got.Trigger)
	assert.Equal(t, "Set", got.Destination)
	assert.Equal(t, "Set", got.LastNodeExecuted)
	assert.JSONEq(t, `{"runId":"x"}`, string(got.Record))
	assert.JSONEq(t, `{"code":"NODE_FAILED"}`, string(got.Error))
	require.NotNil(t, got.FinishedAt)
	assert.WithinDuration(t, finished, *got.FinishedAt, time.Second)
}

func TestCreateRun_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := sampleRun("", schema.RunStatusSucceeded, time.Now().UTC())
	require.NoError(t, s.CreateRun(ctx, run))

	err := s.CreateRun(ctx, run)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestCreateRun_RequiresRecord(t *testing.T) {
	err := newTestStore(t).CreateRun(context.Background(), &Run{ID: "r"})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestGetRun_NotFound(t *testing.T) {
	_, err := newTestStore(t).GetRun(context.Background(), "missing")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	r1 := sampleRun("wf-a", schema.RunStatusSucceeded, base)
	r2 := sampleRun("wf-a", schema.RunStatusFailed, base.Add(time.Minute))
	r3 := sampleRun("wf-b", schema.RunStatusSucceeded, base.Add(2*time.Minute))
	r3.Trigger = TriggerSchedule
	for _, r := range []*Run{r1, r2, r3} {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, r3.ID, all[0].ID, "newest first")

	byWF, err := s.ListRuns(ctx, RunFilter{WorkflowID: "wf-a"})
	require.NoError(t, err)
	assert.Len(t, byWF, 2)

	failed, err := s.ListRuns(ctx, RunFilter{Status: schema.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, r2.ID, failed[0].ID)

	scheduled, err := s.ListRuns(ctx, RunFilter{Trigger: TriggerSchedule})
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNewRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	finished := time.Now().UTC()
	rec := &engine.RunExecutionData{
		RunID:      uuid.NewString(),
		WorkflowID: "wf-rt",
		Status:     schema.RunStatusFailed,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: &finished,
		ResultData: engine.ResultData{
			RunData: map[string][]engine.TaskData{
				"Start": {{Data: []schema.Items{{{"n": 1.0}}}}},
			},
			ExecutionOrder:   []string{"Start"},
			LastNodeExecuted: "Start",
			Error:            schema.NewError(schema.ErrCodeNodeFailed, "boom").WithNode("Start"),
		},
	}

	run, err := NewRun(rec, TriggerMCP)
	require.NoError(t, err)
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, TriggerMCP, got.Trigger)
	assert.Equal(t, "Start", got.LastNodeExecuted)
	assert.Contains(t, string(got.Error), "NODE_FAILED")

	decoded, err := got.Decode()
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, decoded.RunID)
	assert.Equal(t, []string{"Start"}, decoded.ResultData.ExecutionOrder)
	out, ok := decoded.Output("Start", 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, out[0]["n"])
	assert.Equal(t, "Start", decoded.ResultData.Error.Node)
}

func TestNewRun_Nil(t *testing.T) {
	_, err := NewRun(nil, TriggerManual)
	assert.Error(t, err)
}

// --- Schedules ---

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	sched := &Schedule{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		CronExpression: "*/5 * * * *",
		Seed:           json.RawMessage(`[{"id":1}]`),
		Enabled:        true,
	}
	require.NoError(t, s.CreateSchedule(ctx, sched))

	got, err := s.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", got.CronExpression)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastRunAt)

	items, err := got.SeedItems()
	require.NoError(t, err)
	assert.Equal(t, schema.Items{{"id": 1.0}}, items)

	now := time.Now().UTC()
	disabled := false
	require.NoError(t, s.UpdateSchedule(ctx, sched.ID, ScheduleUpdate{
		Enabled:       &disabled,
		LastRunAt:     &now,
		LastRunStatus: string(schema.RunStatusSucceeded),
		LastRunID:     "run-1",
	}))

	got, err = s.GetSchedule(ctx, sched.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, "succeeded", got.LastRunStatus)
	assert.Equal(t, "run-1", got.LastRunID)

	enabled := true
	list, err := s.ListSchedules(ctx, ScheduleFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.ListSchedules(ctx, ScheduleFilter{WorkflowID: wf.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteSchedule(ctx, sched.ID))
	_, err = s.GetSchedule(ctx, sched.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestUpdateSchedule_NoopAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assert.NoError(t, s.UpdateSchedule(ctx, "missing", ScheduleUpdate{}))

	status := "failed"
	err := s.UpdateSchedule(ctx, "missing", ScheduleUpdate{LastRunStatus: status})
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestCreateSchedule_Validation(t *testing.T) {
	err := newTestStore(t).CreateSchedule(context.Background(), &Schedule{ID: "s"})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestSchedulesCascadeOnWorkflowDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	sched := &Schedule{ID: uuid.NewString(), WorkflowID: wf.ID, CronExpression: "@hourly", Enabled: true}
	require.NoError(t, s.CreateSchedule(ctx, sched))
	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))

	list, err := s.ListSchedules(ctx, ScheduleFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSeedItems_Invalid(t *testing.T) {
	sched := &Schedule{Seed: json.RawMessage(`{"not":"a list"}`)}
	_, err := sched.SeedItems()
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	empty := &Schedule{}
	items, err := empty.SeedItems()
	assert.NoError(t, err)
	assert.Nil(t, items)
}

func TestStore_ImplementsInterface(t *testing.T) {
	var _ Store = (*LibSQLStore)(nil)
}
