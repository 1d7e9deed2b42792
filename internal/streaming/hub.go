package streaming

import (
	"context"

	"github.com/rendis/loom/pkg/schema"
)

// RunEvent wraps one run progress event with its routing keys: the run id
// assigned at submission and the workflow the run executes.
type RunEvent struct {
	RunID      string       `json:"run_id"`
	WorkflowID string       `json:"workflow_id"`
	Event      schema.Event `json:"event"`
}

// EventFilter specifies which run events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for live run events, so observers can watch runs
// they did not start.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
