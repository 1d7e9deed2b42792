package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/loom/pkg/schema"
)

// Metadata keys a workflow definition uses to opt into scheduled execution.
const (
	metaSchedule       = "schedule"
	metaScheduleInput  = "schedule_input"
	metaScheduleParams = "schedule_parameters"
)

// WorkflowRunner runs a workflow by id. Satisfied by a thin wrapper over the
// executor (avoids import cycle).
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, workflowID, input string, params map[string]any) (string, error)
}

// job is one scheduled workflow derived from its metadata.
type job struct {
	workflowID string
	expr       string
	input      string
	params     map[string]any
	schedule   cron.Schedule
	nextRun    time.Time
}

// Scheduler runs workflows whose metadata carries a cron schedule. The job
// set is rebuilt from the workflow library on Sync, so config hot reload
// picks up schedule changes without a restart.
type Scheduler struct {
	runner WorkflowRunner
	parser cron.Parser
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // workflow IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger.With(slog.String("component", "scheduler")),
		jobs:     make(map[string]*job),
		inflight: make(map[string]struct{}),
	}
}

// Sync rebuilds the job set from the given workflow definitions. Workflows
// without a schedule metadata entry are ignored; invalid cron expressions are
// logged and skipped. Returns the number of active jobs.
func (s *Scheduler) Sync(defs []*schema.WorkflowDefinition) int {
	now := time.Now().UTC()

	next := make(map[string]*job, len(s.jobs))
	for _, def := range defs {
		expr, ok := def.Metadata[metaSchedule].(string)
		if !ok || expr == "" {
			continue
		}

		schedule, err := s.parser.Parse(expr)
		if err != nil {
			s.logger.Error("invalid schedule expression, skipping workflow",
				slog.String("workflow_id", def.ID),
				slog.String("schedule", expr),
				slog.Any("error", err))
			continue
		}

		j := &job{
			workflowID: def.ID,
			expr:       expr,
			schedule:   schedule,
			nextRun:    schedule.Next(now),
		}
		if input, ok := def.Metadata[metaScheduleInput].(string); ok {
			j.input = input
		}
		if params, ok := def.Metadata[metaScheduleParams].(map[string]any); ok {
			j.params = params
		}

		s.mu.Lock()
		// Keep the pending fire time for an unchanged schedule so Sync does
		// not perpetually push the next run into the future.
		if prev, exists := s.jobs[def.ID]; exists && prev.expr == expr {
			j.nextRun = prev.nextRun
		}
		s.mu.Unlock()

		next[def.ID] = j
	}

	s.mu.Lock()
	s.jobs = next
	count := len(next)
	s.mu.Unlock()

	s.logger.Info("schedules synced", slog.Int("jobs", count))
	return count
}

// Start launches the background scheduling loop with a 60s ticker.
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
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
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

// tick runs every job whose next fire time has passed.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.nextRun.After(now) {
			due = append(due, j)
			j.nextRun = j.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if !s.tryAcquire(j.workflowID) {
			continue // previous run still executing (dedup)
		}
		go func(j *job) {
			defer s.release(j.workflowID)
			s.runJob(ctx, j)
		}(j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	s.logger.Info("running scheduled workflow",
		slog.String("workflow_id", j.workflowID),
		slog.String("schedule", j.expr))

	if _, err := s.runner.RunWorkflow(ctx, j.workflowID, j.input, j.params); err != nil {
		s.logger.Error("scheduled workflow failed",
			slog.String("workflow_id", j.workflowID),
			slog.Any("error", err))
	}
}

// tryAcquire returns true and marks the workflow as in-flight if it is not
// already running.
func (s *Scheduler) tryAcquire(workflowID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[workflowID]; ok {
		return false
	}
	s.inflight[workflowID] = struct{}{}
	return true
}

func (s *Scheduler) release(workflowID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, workflowID)
}

// NextRun reports the pending fire time for a workflow, if scheduled.
func (s *Scheduler) NextRun(workflowID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[workflowID]
	if !ok {
		return time.Time{}, false
	}
	return j.nextRun, true
}

// Stop gracefully shuts down the scheduler.
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
