package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/loom/internal/diagram"
	"github.com/rendis/loom/internal/engine"
	"github.com/rendis/loom/internal/logging"
	"github.com/rendis/loom/pkg/schema"
)

// runRequest is the body of run and run/stream requests.
type runRequest struct {
	InputText  string         `json:"input_text"`
	Parameters map[string]any `json:"parameters"`
}

// runResponse is the synchronous run result.
type runResponse struct {
	RunID         string  `json:"run_id"`
	Result        string  `json:"result"`
	Status        string  `json:"status"`
	ExecutionTime float64 `json:"execution_time"`
}

// handleListWorkflows lists the ids of all registered workflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": s.deps.Workflows.List(),
	})
}

// handleGetWorkflow returns one workflow definition.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Workflows.Lookup(r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// handleWorkflowDiagram renders one workflow as a Mermaid flowchart.
func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Workflows.Lookup(r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(diagram.RenderMermaid(diagram.Build(def))))
}

// handleHealth reports server liveness and run pool activity.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"workflows": s.deps.Workflows.Count(),
		"pool":      s.deps.Pool.Metrics(),
	})
}

// decodeRunRequest parses and normalizes a run request body.
func decodeRunRequest(r *http.Request) (runRequest, error) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON body: %v", err)
	}
	if body.Parameters == nil {
		body.Parameters = map[string]any{}
	}
	return body, nil
}

// handleRun executes a workflow synchronously and returns the final output.
// Admission goes through the run pool, so a burst of requests queues instead
// of fanning out unbounded provider calls.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	body, err := decodeRunRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	def, err := s.deps.Workflows.Lookup(workflowID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	runID := uuid.New().String()
	ctx := logging.WithRunID(logging.WithWorkflowID(r.Context(), workflowID), runID)
	s.recordRunStart(runID, workflowID, body.InputText, body.Parameters)

	start := time.Now()
	var result string
	done := make(chan error, 1)

	submitErr := s.deps.Pool.Submit(ctx, func(runCtx context.Context) error {
		out, runErr := s.deps.Executor.Execute(runCtx, def, body.InputText, body.Parameters)
		result = out
		s.recordRunOutcome(runID, out, runErr, time.Since(start))
		done <- runErr
		return runErr
	})
	if submitErr != nil {
		if errors.Is(submitErr, engine.ErrPoolShutdown) {
			writeError(w, http.StatusServiceUnavailable, submitErr)
			return
		}
		writeError(w, statusForError(submitErr), submitErr)
		return
	}

	select {
	case runErr := <-done:
		if runErr != nil {
			writeError(w, statusForError(runErr), runErr)
			return
		}
	case <-ctx.Done():
		writeError(w, http.StatusRequestTimeout,
			schema.NewError(schema.ErrCodeCancelled, "client disconnected"))
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		RunID:         runID,
		Result:        result,
		Status:        "success",
		ExecutionTime: time.Since(start).Seconds(),
	})
}

// handleRunStream executes a workflow and streams its progress events over
// SSE. Closing the connection cancels the run. Events are also published to
// the hub so other observers can follow the run by id.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	body, err := decodeRunRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	def, err := s.deps.Workflows.Lookup(workflowID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	runID := uuid.New().String()

	// r.Context() is cancelled when the client disconnects; the run context
	// derives from it, so abandoning the stream stops the workflow.
	ctx := logging.WithRunID(logging.WithWorkflowID(r.Context(), workflowID), runID)

	events, err := s.deps.Executor.StreamExecute(ctx, def, body.InputText, body.Parameters)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	s.recordRunStart(runID, workflowID, body.InputText, body.Parameters)
	start := time.Now()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Run-Id", runID)

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			s.publish(ctx, runID, workflowID, event)
			data, merr := json.Marshal(event)
			if merr != nil {
				continue
			}
			s.recordRunEvent(runID, event, data)
			if event.Terminal() {
				s.recordStreamOutcome(runID, event, time.Since(start))
			}
			if _, werr := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); werr != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// publish forwards a run event to the hub. Best effort: hub failures never
// disturb the stream the client is already receiving.
func (s *Server) publish(ctx context.Context, runID, workflowID string, event schema.Event) {
	if s.deps.Hub == nil {
		return
	}
	if err := s.deps.Hub.Publish(ctx, streamingEvent(runID, workflowID, event)); err != nil {
		s.deps.Logger.Debug("event publish failed", "run_id", runID, "error", err)
	}
}
