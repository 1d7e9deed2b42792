package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rendis/loom/internal/store"
	"github.com/rendis/loom/pkg/schema"
)

// handleListRuns lists the run history, newest first. Supports workflow_id,
// status and limit query parameters.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotFound,
			schema.NewError(schema.ErrCodeNotFound, "run history is not enabled"))
		return
	}

	filter := store.RunFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Status:     r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest,
				schema.NewErrorf(schema.ErrCodeValidation, "invalid limit %q", raw))
			return
		}
		filter.Limit = n
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns one run with its recorded events.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotFound,
			schema.NewError(schema.ErrCodeNotFound, "run history is not enabled"))
		return
	}

	runID := r.PathValue("id")
	run, err := s.deps.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	events, err := s.deps.Store.ListEvents(r.Context(), runID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if events == nil {
		events = []*store.EventRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"run": run, "events": events})
}

// Recording is best effort: history failures are logged, never surfaced to
// the caller of a run. Outcome writes use a background context so a client
// disconnect cannot lose the record.

func (s *Server) recordRunStart(runID, workflowID, input string, params map[string]any) {
	if s.deps.Store == nil {
		return
	}
	err := s.deps.Store.CreateRun(context.Background(), &store.RunRecord{
		RunID:      runID,
		WorkflowID: workflowID,
		Input:      input,
		Params:     params,
	})
	if err != nil {
		s.deps.Logger.Warn("run record not created", "run_id", runID, "error", err)
	}
}

func (s *Server) recordRunOutcome(runID, result string, runErr error, took time.Duration) {
	if s.deps.Store == nil {
		return
	}
	var err error
	if runErr != nil {
		err = s.deps.Store.FailRun(context.Background(), runID, runErr.Error(), took)
	} else {
		err = s.deps.Store.CompleteRun(context.Background(), runID, result, took)
	}
	if err != nil {
		s.deps.Logger.Warn("run outcome not recorded", "run_id", runID, "error", err)
	}
}

// recordStreamOutcome closes out a streamed run's record from its terminal
// event.
func (s *Server) recordStreamOutcome(runID string, event schema.Event, took time.Duration) {
	if event.Type == schema.EventStepError {
		s.recordRunOutcome(runID, "", schema.NewError(schema.ErrCodeExecution, event.Error), took)
		return
	}
	var result string
	if event.Result != nil {
		result = *event.Result
	}
	s.recordRunOutcome(runID, result, nil, took)
}

func (s *Server) recordRunEvent(runID string, event schema.Event, payload json.RawMessage) {
	if s.deps.Store == nil {
		return
	}
	err := s.deps.Store.AppendEvent(context.Background(), &store.EventRecord{
		RunID:   runID,
		Type:    event.Type,
		Payload: payload,
	})
	if err != nil {
		s.deps.Logger.Warn("run event not recorded", "run_id", runID, "error", err)
	}
}
