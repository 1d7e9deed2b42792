package store

import (
	"context"
	"encoding/json"
	"time"
)

// Run lifecycle states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRecord is one workflow execution in the run history.
type RunRecord struct {
	RunID       string         `json:"run_id"`
	WorkflowID  string         `json:"workflow_id"`
	Status      string         `json:"status"`
	Input       string         `json:"input,omitempty"`
	Params      map[string]any `json:"parameters,omitempty"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// EventRecord is one progress event appended to a run.
type EventRecord struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	WorkflowID string
	Status     string
	Limit      int
}

// Store is the run history persistence contract. Implementations must be
// safe for concurrent use.
type Store interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	CompleteRun(ctx context.Context, runID, result string, took time.Duration) error
	FailRun(ctx context.Context, runID, errMsg string, took time.Duration) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	AppendEvent(ctx context.Context, event *EventRecord) error
	ListEvents(ctx context.Context, runID string) ([]*EventRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}
