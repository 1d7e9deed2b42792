package engine

import (
	"encoding/json"
	"sync"

	"github.com/rendis/loom/internal/expressions"
)

// stepResult is one stored step output, in execution order.
type stepResult struct {
	ID     string `json:"id"`
	Output string `json:"output"`
}

// resultStore holds the outputs of completed steps that declared an id.
// Shared by reference between a context and its parallel-branch clones, so
// access is serialized. Last write wins per id; lookups return the most
// recent value.
type resultStore struct {
	mu     sync.Mutex
	order  []stepResult
	values map[string]string
}

func newResultStore() *resultStore {
	return &resultStore{values: make(map[string]string)}
}

func (s *resultStore) set(id, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, stepResult{ID: id, Output: output})
	s.values[id] = output
}

// Output implements expressions.OutputLookup.
func (s *resultStore) Output(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	return v, ok
}

// snapshot returns the stored results in execution order. Entries superseded
// by a later write to the same id are omitted.
func (s *resultStore) snapshot() []stepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]stepResult, 0, len(s.order))
	for _, r := range s.order {
		if s.values[r.ID] == r.Output {
			out = append(out, r)
		}
	}
	return out
}

// ExecutionContext is the mutable per-run state: the input text flowing from
// step to step, the merged parameters (read-only after creation), and the
// shared store of completed step results.
type ExecutionContext struct {
	WorkflowID    string
	Input         string
	OriginalInput string
	Parameters    map[string]any

	results *resultStore
}

func newExecutionContext(workflowID, input string, params map[string]any) *ExecutionContext {
	if params == nil {
		params = make(map[string]any)
	}
	return &ExecutionContext{
		WorkflowID:    workflowID,
		Input:         input,
		OriginalInput: input,
		Parameters:    params,
		results:       newResultStore(),
	}
}

// Clone derives a context for a parallel sibling: input is copied so siblings
// cannot observe each other's threading, parameters are shared read-only, and
// the result store is shared so sibling outputs stay queryable by id.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	return &ExecutionContext{
		WorkflowID:    ec.WorkflowID,
		Input:         ec.Input,
		OriginalInput: ec.OriginalInput,
		Parameters:    ec.Parameters,
		results:       ec.results,
	}
}

// StoreResult records a step's output under its declared id.
func (ec *ExecutionContext) StoreResult(id, output string) {
	ec.results.set(id, output)
}

// Output resolves a stored step output by id.
func (ec *ExecutionContext) Output(id string) (string, bool) {
	return ec.results.Output(id)
}

// Scope builds the template and condition scope for the current step. The
// "context" value carries the original input and completed step outputs as
// JSON, for prompts that reference the run so far.
func (ec *ExecutionContext) Scope() *expressions.Scope {
	previous := make(map[string]string)
	for _, r := range ec.results.snapshot() {
		previous[r.ID] = r.Output
	}

	extra := make(map[string]any, 1)
	if encoded, err := json.Marshal(map[string]any{
		"original_input": ec.OriginalInput,
		"previous_steps": previous,
	}); err == nil {
		extra["context"] = string(encoded)
	}

	return &expressions.Scope{
		InputText:  ec.Input,
		Parameters: ec.Parameters,
		Extra:      extra,
		Outputs:    ec.results,
	}
}

var _ expressions.OutputLookup = (*resultStore)(nil)
