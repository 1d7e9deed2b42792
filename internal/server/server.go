package server

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/loom/internal/engine"
	"github.com/rendis/loom/internal/registry"
	"github.com/rendis/loom/internal/store"
	"github.com/rendis/loom/internal/streaming"
)

// Deps holds the collaborators of the HTTP surface. Store is optional; a nil
// Store disables the run history endpoints.
type Deps struct {
	Executor  *engine.Executor
	Workflows *registry.Library
	Hub       streaming.EventHub
	Pool      *engine.RunPool
	Store     store.Store
	Logger    *slog.Logger
}

// Server exposes workflow execution over HTTP: synchronous runs, SSE
// streaming runs, library introspection and an event firehose.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /v1/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("GET /v1/workflows/{id}/diagram", s.handleWorkflowDiagram)
	mux.HandleFunc("POST /v1/workflows/{id}/run", s.handleRun)
	mux.HandleFunc("POST /v1/workflows/{id}/run/stream", s.handleRunStream)

	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)

	// Hub observers.
	mux.HandleFunc("GET /v1/events", s.handleSSEEvents)

	mux.HandleFunc("GET /v1/healthz", s.handleHealth)

	return mux
}
