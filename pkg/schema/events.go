package schema

import "time"

// Streaming event types emitted during a run. step_error and complete are
// terminal: nothing follows them on a run's stream.
const (
	EventWorkflowStart = "workflow_start"
	EventStepStart     = "step_start"
	EventStepComplete  = "step_complete"
	EventStepError     = "step_error"
	EventComplete      = "complete"
)

// Event is one progress event of a streaming run. Type discriminates which
// optional fields are populated. Timestamps are monotonically non-decreasing
// within a single run.
type Event struct {
	Type          string    `json:"type"`
	WorkflowID    string    `json:"workflow_id,omitempty"`
	TotalSteps    *int      `json:"total_steps,omitempty"`
	StepIndex     *int      `json:"step_index,omitempty"`
	StepType      StepType  `json:"step_type,omitempty"`
	Result        *string   `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
	ExecutionTime *float64  `json:"execution_time,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventStepError || e.Type == EventComplete
}

// WorkflowStartEvent announces the beginning of a run.
func WorkflowStartEvent(workflowID string, totalSteps int, ts time.Time) Event {
	return Event{
		Type:       EventWorkflowStart,
		WorkflowID: workflowID,
		TotalSteps: &totalSteps,
		Timestamp:  ts,
	}
}

// StepStartEvent is emitted immediately before a step is dispatched.
func StepStartEvent(index int, stepType StepType, totalSteps int, ts time.Time) Event {
	return Event{
		Type:       EventStepStart,
		StepIndex:  &index,
		StepType:   stepType,
		TotalSteps: &totalSteps,
		Timestamp:  ts,
	}
}

// StepCompleteEvent carries a step's output and wall-clock duration in seconds.
func StepCompleteEvent(index int, stepType StepType, result string, elapsed time.Duration, ts time.Time) Event {
	secs := elapsed.Seconds()
	return Event{
		Type:          EventStepComplete,
		StepIndex:     &index,
		StepType:      stepType,
		Result:        &result,
		ExecutionTime: &secs,
		Timestamp:     ts,
	}
}

// StepErrorEvent is the terminal event of a failed run.
func StepErrorEvent(index int, err error, ts time.Time) Event {
	return Event{
		Type:      EventStepError,
		StepIndex: &index,
		Error:     err.Error(),
		Timestamp: ts,
	}
}

// CompleteEvent is the terminal event of a successful run.
func CompleteEvent(result string, ts time.Time) Event {
	return Event{
		Type:      EventComplete,
		Result:    &result,
		Timestamp: ts,
	}
}
