// Package models defines the task, result, and configuration types shared by
// the store, engine, and facade layers.
package models

import (
	"errors"
	"time"
)

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	// StatePending means the task is registered but has not been granted a
	// concurrency slot yet.
	StatePending TaskState = "pending"
	// StateRunning means the agent subprocess has been started.
	StateRunning TaskState = "running"
	// StateSucceeded means the subprocess exited zero and the result was recorded.
	StateSucceeded TaskState = "succeeded"
	// StateFailed means the subprocess exited non-zero, timed out, or failed to launch.
	StateFailed TaskState = "failed"
	// StateCancelled means the task was cancelled before reaching another terminal state.
	StateCancelled TaskState = "cancelled"
)

// IsTerminal reports whether the state is one of the three terminal states.
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ApprovalMode controls how the agent CLI handles tool-use confirmation.
type ApprovalMode string

const (
	ApprovalDefault  ApprovalMode = "default"
	ApprovalAutoEdit ApprovalMode = "auto_edit"
	ApprovalYolo     ApprovalMode = "yolo"
)

// OutputFormat selects the agent CLI output format.
type OutputFormat string

const (
	OutputText       OutputFormat = "text"
	OutputJSON       OutputFormat = "json"
	OutputStreamJSON OutputFormat = "stream-json"
)

// TaskConfig holds per-task execution options. Zero values mean "use the
// process-wide default" for Model, ApprovalMode, OutputFormat, and Timeout.
type TaskConfig struct {
	Model              string            `json:"model,omitempty" yaml:"model"`
	ApprovalMode       ApprovalMode      `json:"approval_mode,omitempty" yaml:"approval_mode"`
	OutputFormat       OutputFormat      `json:"output_format,omitempty" yaml:"output_format"`
	Sandbox            bool              `json:"sandbox,omitempty" yaml:"sandbox"`
	MCPServers         []string          `json:"mcp_servers,omitempty" yaml:"mcp_servers"`
	AllowedTools       []string          `json:"allowed_tools,omitempty" yaml:"allowed_tools"`
	Extensions         []string          `json:"extensions,omitempty" yaml:"extensions"`
	IncludeDirectories []string          `json:"include_directories,omitempty" yaml:"include_directories"`
	Timeout            time.Duration     `json:"timeout,omitempty" yaml:"timeout"`
	Files              map[string]string `json:"files,omitempty" yaml:"files"`
}

// Result is the outcome of a finished task. Error is set iff Success is false.
// ModifiedFiles contains only paths whose content differs from (or is absent
// in) the pre-run workspace snapshot.
type Result struct {
	Success       bool              `json:"success"`
	Response      string            `json:"response,omitempty"`
	ModifiedFiles map[string]string `json:"modified_files,omitempty"`
	Stdout        string            `json:"stdout,omitempty"`
	Stderr        string            `json:"stderr,omitempty"`
	ExitCode      int               `json:"exit_code"`
	Error         string            `json:"error,omitempty"`
}

// ErrorResult builds a failed Result from an error message.
func ErrorResult(msg string) *Result {
	return &Result{Success: false, Error: msg, ExitCode: -1}
}

// Task is the unit of work tracked by the store. The store owns the record;
// the engine holds only a transient reference while the task runs.
type Task struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	Config     TaskConfig `json:"config"`
	State      TaskState  `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
}

// Validate checks that the task has the fields required for registration.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Prompt == "" {
		return errors.New("task prompt is required")
	}
	if !t.State.Valid() {
		return errors.New("task state is invalid")
	}
	return nil
}

// Clone returns a deep copy of the task so callers can read it without
// holding store locks.
func (t *Task) Clone() *Task {
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		c.FinishedAt = &finished
	}
	if t.Result != nil {
		r := *t.Result
		if t.Result.ModifiedFiles != nil {
			r.ModifiedFiles = make(map[string]string, len(t.Result.ModifiedFiles))
			for k, v := range t.Result.ModifiedFiles {
				r.ModifiedFiles[k] = v
			}
		}
		c.Result = &r
	}
	if t.Config.Files != nil {
		c.Config.Files = make(map[string]string, len(t.Config.Files))
		for k, v := range t.Config.Files {
			c.Config.Files[k] = v
		}
	}
	c.Config.MCPServers = append([]string(nil), t.Config.MCPServers...)
	c.Config.AllowedTools = append([]string(nil), t.Config.AllowedTools...)
	c.Config.Extensions = append([]string(nil), t.Config.Extensions...)
	c.Config.IncludeDirectories = append([]string(nil), t.Config.IncludeDirectories...)
	return &c
}

// Patch carries the field updates applied atomically together with a state
// transition by Store.CompareAndSet.
type Patch struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
	Result     *Result
}

// MCPServer describes a registered MCP server: either a command to spawn or a
// URL to connect to, plus optional arguments.
type MCPServer struct {
	Name    string   `json:"name" yaml:"name"`
	Command string   `json:"command,omitempty" yaml:"command"`
	URL     string   `json:"url,omitempty" yaml:"url"`
	Args    []string `json:"args,omitempty" yaml:"args"`
}

// Validate checks that the descriptor is usable.
func (s *MCPServer) Validate() error {
	if s.Name == "" {
		return errors.New("mcp server name is required")
	}
	if s.Command == "" && s.URL == "" {
		return errors.New("mcp server requires a command or url")
	}
	return nil
}
