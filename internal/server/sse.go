package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/loom/internal/streaming"
	"github.com/rendis/loom/pkg/schema"
)

// streamingEvent wraps a run's progress event for hub distribution.
func streamingEvent(runID, workflowID string, event schema.Event) streaming.RunEvent {
	return streaming.RunEvent{
		RunID:      runID,
		WorkflowID: workflowID,
		Event:      event,
	}
}

// handleSSEEvents streams hub events to the client via Server-Sent Events.
// Optional query params narrow the stream: run_id, workflow_id and types
// (comma-separated event type list).
func (s *Server) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	filter := streaming.EventFilter{
		RunID:      r.URL.Query().Get("run_id"),
		WorkflowID: r.URL.Query().Get("workflow_id"),
	}
	if types := r.URL.Query().Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.EventTypes = append(filter.EventTypes, t)
			}
		}
	}
	s.serveSSE(w, r, filter)
}

// serveSSE is the common SSE implementation over the event hub.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if s.deps.Hub == nil {
		http.Error(w, "event hub not configured", http.StatusNotImplemented)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			data, merr := json.Marshal(event)
			if merr != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event.Type, data)
			flusher.Flush()
		}
	}
}
