package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harrison/agentd/internal/models"
	"github.com/harrison/agentd/internal/registry"
)

// healthResponse reports daemon and CLI health in one round trip.
type healthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	GeminiVersion string   `json:"gemini_version,omitempty"`
	GeminiError   string   `json:"gemini_error,omitempty"`
	MCPServers    []string `json:"mcp_servers"`
	TasksRunning  int      `json:"tasks_running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "ok",
		Version:      s.version,
		MCPServers:   []string{},
		TasksRunning: s.engine.Scheduler().InFlight(),
	}

	if cliVersion, err := s.service.Version(r.Context()); err != nil {
		// A missing CLI degrades health but the daemon itself is up.
		resp.Status = "degraded"
		resp.GeminiError = err.Error()
	} else {
		resp.GeminiVersion = cliVersion
	}

	if names, err := s.registry.Names(); err == nil {
		resp.MCPServers = names
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMCPServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.registry.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

func (s *Server) handleAddMCPServer(w http.ResponseWriter, r *http.Request) {
	var server models.MCPServer
	if err := json.NewDecoder(r.Body).Decode(&server); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := server.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.Add(server); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, server)
}

func (s *Server) handleRemoveMCPServer(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.PathValue("name")); err != nil {
		if errors.Is(err, registry.ErrServerNotFound) {
			s.writeError(w, http.StatusNotFound, "mcp server not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProbeMCPServer handshakes with a registered server and reports the
// tools it advertises. A registration that does not speak MCP comes back 502.
func (s *Server) handleProbeMCPServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.registry.Get(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, registry.ErrServerNotFound) {
			s.writeError(w, http.StatusNotFound, "mcp server not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tools, err := registry.Probe(r.Context(), server)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if tools == nil {
		tools = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": server.Name, "tools": tools})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if sessions == nil {
		sessions = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	extensions, err := s.service.ListExtensions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if extensions == nil {
		extensions = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"extensions": extensions})
}
