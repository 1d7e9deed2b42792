package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/loom/pkg/schema"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []recordedRun
	err  error
}

type recordedRun struct {
	workflowID string
	input      string
	params     map[string]any
}

func (r *recordingRunner) RunWorkflow(_ context.Context, workflowID, input string, params map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedRun{workflowID: workflowID, input: input, params: params})
	return "", r.err
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scheduledDef(id, expr string) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:       id,
		Metadata: map[string]any{"schedule": expr},
	}
}

func TestSync_BuildsJobsFromMetadata(t *testing.T) {
	s := NewScheduler(&recordingRunner{}, quietLogger())

	count := s.Sync([]*schema.WorkflowDefinition{
		scheduledDef("nightly", "0 3 * * *"),
		{ID: "unscheduled"},
		scheduledDef("hourly", "0 * * * *"),
	})

	assert.Equal(t, 2, count)

	next, ok := s.NextRun("nightly")
	require.True(t, ok)
	assert.True(t, next.After(time.Now().UTC()))

	_, ok = s.NextRun("unscheduled")
	assert.False(t, ok)
}

func TestSync_SkipsInvalidExpression(t *testing.T) {
	s := NewScheduler(&recordingRunner{}, quietLogger())
	count := s.Sync([]*schema.WorkflowDefinition{
		scheduledDef("bad", "not a cron"),
		scheduledDef("good", "*/5 * * * *"),
	})
	assert.Equal(t, 1, count)
}

func TestSync_RemovesDroppedWorkflows(t *testing.T) {
	s := NewScheduler(&recordingRunner{}, quietLogger())
	s.Sync([]*schema.WorkflowDefinition{scheduledDef("old", "0 * * * *")})
	s.Sync([]*schema.WorkflowDefinition{scheduledDef("new", "0 * * * *")})

	_, ok := s.NextRun("old")
	assert.False(t, ok)
	_, ok = s.NextRun("new")
	assert.True(t, ok)
}

func TestSync_PreservesNextRunForUnchangedSchedule(t *testing.T) {
	s := NewScheduler(&recordingRunner{}, quietLogger())
	s.Sync([]*schema.WorkflowDefinition{scheduledDef("wf", "0 * * * *")})
	first, ok := s.NextRun("wf")
	require.True(t, ok)

	s.Sync([]*schema.WorkflowDefinition{scheduledDef("wf", "0 * * * *")})
	second, ok := s.NextRun("wf")
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestTick_RunsDueJobs(t *testing.T) {
	runner := &recordingRunner{}
	s := NewScheduler(runner, quietLogger())

	def := &schema.WorkflowDefinition{
		ID: "due",
		Metadata: map[string]any{
			"schedule":       "* * * * *",
			"schedule_input": "tick",
			"schedule_parameters": map[string]any{
				"mode": "batch",
			},
		},
	}
	s.Sync([]*schema.WorkflowDefinition{def})

	// Force the job to be due.
	s.mu.Lock()
	s.jobs["due"].nextRun = time.Now().UTC().Add(-time.Second)
	s.mu.Unlock()

	s.tick(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for runner.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.runs, 1)
	assert.Equal(t, "due", runner.runs[0].workflowID)
	assert.Equal(t, "tick", runner.runs[0].input)
	assert.Equal(t, map[string]any{"mode": "batch"}, runner.runs[0].params)
}

func TestTick_SkipsNotDueJobs(t *testing.T) {
	runner := &recordingRunner{}
	s := NewScheduler(runner, quietLogger())
	s.Sync([]*schema.WorkflowDefinition{scheduledDef("later", "0 0 1 1 *")})

	s.tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, runner.count())
}

func TestTick_AdvancesNextRun(t *testing.T) {
	runner := &recordingRunner{}
	s := NewScheduler(runner, quietLogger())
	s.Sync([]*schema.WorkflowDefinition{scheduledDef("wf", "* * * * *")})

	past := time.Now().UTC().Add(-time.Minute)
	s.mu.Lock()
	s.jobs["wf"].nextRun = past
	s.mu.Unlock()

	s.tick(context.Background())

	next, ok := s.NextRun("wf")
	require.True(t, ok)
	assert.True(t, next.After(past))
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(&recordingRunner{}, quietLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	// Stop is idempotent.
	require.NoError(t, s.Stop())

	// Restart after stop works.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}
