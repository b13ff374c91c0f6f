package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/harrison/agentd/internal/models"
	"github.com/harrison/agentd/internal/store"
)

// taskRequest is the POST /tasks body. Timeout is expressed in seconds so
// clients never deal with Go duration encoding.
type taskRequest struct {
	Prompt string            `json:"prompt"`
	Config taskConfigRequest `json:"config"`
}

type taskConfigRequest struct {
	Model              string            `json:"model,omitempty"`
	ApprovalMode       string            `json:"approval_mode,omitempty"`
	OutputFormat       string            `json:"output_format,omitempty"`
	Sandbox            bool              `json:"sandbox,omitempty"`
	MCPServers         []string          `json:"mcp_servers,omitempty"`
	AllowedTools       []string          `json:"allowed_tools,omitempty"`
	Extensions         []string          `json:"extensions,omitempty"`
	IncludeDirectories []string          `json:"include_directories,omitempty"`
	TimeoutSeconds     float64           `json:"timeout_seconds,omitempty"`
	Files              map[string]string `json:"files,omitempty"`
}

func (r taskConfigRequest) toTaskConfig() models.TaskConfig {
	return models.TaskConfig{
		Model:              r.Model,
		ApprovalMode:       models.ApprovalMode(r.ApprovalMode),
		OutputFormat:       models.OutputFormat(r.OutputFormat),
		Sandbox:            r.Sandbox,
		MCPServers:         r.MCPServers,
		AllowedTools:       r.AllowedTools,
		Extensions:         r.Extensions,
		IncludeDirectories: r.IncludeDirectories,
		Timeout:            time.Duration(r.TimeoutSeconds * float64(time.Second)),
		Files:              r.Files,
	}
}

// taskResponse is the external view of a task record.
type taskResponse struct {
	ID         string           `json:"id"`
	State      models.TaskState `json:"state"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Result     *models.Result   `json:"result,omitempty"`
}

func toTaskResponse(task *models.Task) taskResponse {
	return taskResponse{
		ID:         task.ID,
		State:      task.State,
		CreatedAt:  task.CreatedAt,
		StartedAt:  task.StartedAt,
		FinishedAt: task.FinishedAt,
		Result:     task.Result,
	}
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	id, err := s.engine.Submit(r.Context(), req.Prompt, req.Config.toTaskConfig())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"id":    id,
		"state": models.StatePending,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.engine.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]taskResponse, len(tasks))
	for i, task := range tasks {
		responses[i] = toTaskResponse(task)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": responses})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.taskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.taskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (s *Server) taskError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
