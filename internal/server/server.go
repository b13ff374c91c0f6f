// Package server exposes the task engine over HTTP: asynchronous task
// tracking, MCP server registration, and Gemini CLI administration.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/harrison/agentd/internal/engine"
	"github.com/harrison/agentd/internal/gemini"
	"github.com/harrison/agentd/internal/registry"
)

// Server wires the HTTP surface to the engine, registry, and CLI service.
type Server struct {
	engine   *engine.Engine
	registry *registry.Registry
	service  *gemini.Service
	log      engine.Logger
	version  string
}

// New creates a Server. log may be nil.
func New(e *engine.Engine, reg *registry.Registry, svc *gemini.Service, log engine.Logger, version string) *Server {
	return &Server{
		engine:   e,
		registry: reg,
		service:  svc,
		log:      log,
		version:  version,
	}
}

// Handler returns the HTTP handler for the whole API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleCancelTask)

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /mcp/servers", s.handleListMCPServers)
	mux.HandleFunc("POST /mcp/servers", s.handleAddMCPServer)
	mux.HandleFunc("DELETE /mcp/servers/{name}", s.handleRemoveMCPServer)
	mux.HandleFunc("POST /mcp/servers/{name}/probe", s.handleProbeMCPServer)

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /extensions", s.handleListExtensions)

	return s.logRequests(mux)
}

// logRequests logs method, path, and duration for every request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.log != nil {
			s.log.Debugf("%s %s (%v)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
		}
	})
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && s.log != nil {
		s.log.Errorf("failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
