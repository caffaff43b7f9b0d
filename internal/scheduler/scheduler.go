package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultTickInterval is how often the scheduler looks for due schedules.
const DefaultTickInterval = time.Minute

// statusError marks a schedule whose workflow could not be started at all
// (missing workflow, bad seed, invalid graph).
const statusError = "error"

// Runner executes workflow graphs. *engine.WorkflowExecutor satisfies it.
type Runner interface {
	Execute(ctx context.Context, def *schema.Graph, opts engine.RunOptions) (*engine.RunExecutionData, error)
}

// Scheduler polls the store for due schedules, runs their workflows and
// persists the run records.
type Scheduler struct {
	store    store.Store
	runner   Runner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a Scheduler. logger may be nil.
func NewScheduler(s store.Store, runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sch := &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: DefaultTickInterval,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// AddSchedule validates cronExpr and stores a new enabled schedule for a saved workflow.
func (s *Scheduler) AddSchedule(ctx context.Context, workflowID, cronExpr string, seed schema.Items) (*store.Schedule, error) {
	now := s.now().UTC()
	next, err := s.CalculateNextRun(cronExpr, now)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}

	sched := &store.Schedule{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if len(seed) > 0 {
		raw, err := json.Marshal(seed)
		if err != nil {
			return nil, fmt.Errorf("marshal seed: %w", err)
		}
		sched.Seed = raw
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "schedule added",
		slog.String("schedule_id", sched.ID),
		slog.String("workflow_id", workflowID),
		slog.String("cron", cronExpr),
		slog.Time("next_run_at", next),
	)
	return sched, nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled schedule that is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, sched := range schedules {
		if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sched.ID) {
			continue
		}
		if err := s.runSchedule(ctx, sched, now); err != nil {
			s.logger.Error("failed to run schedule",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(sched.ID)
	}
}

// RunNow runs a schedule immediately regardless of its next run time.
func (s *Scheduler) RunNow(ctx context.Context, scheduleID string) (*engine.RunExecutionData, error) {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !s.tryAcquire(sched.ID) {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "schedule %q is already running", sched.ID)
	}
	defer s.release(sched.ID)

	now := s.now().UTC()
	rec, runErr := s.execute(ctx, sched)
	if err := s.finish(ctx, sched, now, rec, runErr); err != nil {
		return rec, err
	}
	return rec, runErr
}

// runSchedule executes a due schedule and updates its bookkeeping.
func (s *Scheduler) runSchedule(ctx context.Context, sched *store.Schedule, now time.Time) error {
	s.logger.Info("running schedule",
		slog.String("schedule_id", sched.ID),
		slog.String("workflow_id", sched.WorkflowID),
	)
	rec, runErr := s.execute(ctx, sched)
	return s.finish(ctx, sched, now, rec, runErr)
}

// execute loads the workflow and runs it. The record is nil when the run
// could not start.
func (s *Scheduler) execute(ctx context.Context, sched *store.Schedule) (*engine.RunExecutionData, error) {
	wf, err := s.store.GetWorkflow(ctx, sched.WorkflowID)
	if err != nil {
		return nil, err
	}
	seed, err := sched.SeedItems()
	if err != nil {
		return nil, err
	}
	return s.runner.Execute(ctx, &wf.Graph, engine.RunOptions{
		WorkflowID: wf.ID,
		SeedData:   seed,
	})
}

// finish persists the run record and updates the schedule's status and next run.
func (s *Scheduler) finish(ctx context.Context, sched *store.Schedule, now time.Time, rec *engine.RunExecutionData, runErr error) error {
	update := store.ScheduleUpdate{LastRunAt: &now, LastRunStatus: statusError}

	if rec != nil {
		update.LastRunStatus = string(rec.Status)
		update.LastRunID = rec.RunID
		run, err := store.NewRun(rec, store.TriggerSchedule)
		if err == nil {
			err = s.store.CreateRun(ctx, run)
		}
		if err != nil {
			s.logger.Error("failed to persist scheduled run",
				slog.String("schedule_id", sched.ID),
				slog.String("run_id", rec.RunID),
				slog.String("error", err.Error()),
			)
		}
	}
	if runErr != nil {
		s.logger.Error("scheduled run failed",
			slog.String("schedule_id", sched.ID),
			slog.String("status", update.LastRunStatus),
			slog.String("error", runErr.Error()),
		)
	}

	next, err := s.CalculateNextRun(sched.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sched.ID, err)
	}
	update.NextRunAt = &next
	return s.store.UpdateSchedule(ctx, sched.ID, update)
}

// tryAcquire marks the schedule in-flight; false if it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts the loop down and waits for the in-progress tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed runs once every enabled schedule whose next run time has passed.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	now := s.now().UTC()
	recovered := 0
	for _, sched := range schedules {
		if sched.NextRunAt == nil || !sched.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(sched.ID) {
			continue
		}
		err := s.runSchedule(ctx, sched, now)
		s.release(sched.ID)
		if err != nil {
			s.logger.Error("failed to recover missed schedule",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", recovered))
	}
	return nil
}
