// Package client is a Go client for the agentd REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned for 404 responses (unknown task, session, or
// MCP server).
var ErrNotFound = errors.New("not found")

// DefaultPollInterval is the default cadence for Wait.
const DefaultPollInterval = 500 * time.Millisecond

// TaskState is the lifecycle state of a task as reported on the wire.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
	StateCancelled TaskState = "cancelled"
)

// IsTerminal reports whether the state is succeeded, failed, or cancelled.
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Result is the outcome of a finished task. Error is set iff Success is false.
type Result struct {
	Success       bool              `json:"success"`
	Response      string            `json:"response,omitempty"`
	ModifiedFiles map[string]string `json:"modified_files,omitempty"`
	Stdout        string            `json:"stdout,omitempty"`
	Stderr        string            `json:"stderr,omitempty"`
	ExitCode      int               `json:"exit_code"`
	Error         string            `json:"error,omitempty"`
}

// MCPServer describes an MCP server registration: a command to spawn or a URL
// to connect to, plus optional arguments.
type MCPServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	URL     string   `json:"url,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// TaskConfig is the per-task configuration accepted by Submit. Timeout is in
// seconds, matching the wire format.
type TaskConfig struct {
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

// Task is the client view of a task record.
type Task struct {
	ID         string     `json:"id"`
	State      TaskState  `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
}

// Health is the GET /health response.
type Health struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	GeminiVersion string   `json:"gemini_version,omitempty"`
	GeminiError   string   `json:"gemini_error,omitempty"`
	MCPServers    []string `json:"mcp_servers"`
	TasksRunning  int      `json:"tasks_running"`
}

// Client talks to an agentd server. The zero HTTPClient falls back to
// http.DefaultClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the given base URL, e.g. "http://localhost:8000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit registers a task and returns its id.
func (c *Client) Submit(ctx context.Context, prompt string, cfg TaskConfig) (string, error) {
	body := map[string]any{"prompt": prompt, "config": cfg}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks", body, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Get fetches the current task record.
func (c *Client) Get(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, http.StatusOK, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// List fetches all task records in creation order.
func (c *Client) List(ctx context.Context) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Cancel requests cancellation and returns the updated record.
func (c *Client) Cancel(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, http.StatusOK, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Wait polls until the task reaches a terminal state or ctx is done.
// A non-positive interval uses DefaultPollInterval.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.State.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run submits a task and waits for its terminal record.
func (c *Client) Run(ctx context.Context, prompt string, cfg TaskConfig) (*Task, error) {
	id, err := c.Submit(ctx, prompt, cfg)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, id, 0)
}

// Health fetches daemon health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// AddMCPServer registers an MCP server, replacing any entry with the same name.
func (c *Client) AddMCPServer(ctx context.Context, server MCPServer) error {
	return c.do(ctx, http.MethodPost, "/mcp/servers", server, http.StatusCreated, nil)
}

// ListMCPServers returns the registered MCP servers.
func (c *Client) ListMCPServers(ctx context.Context) ([]MCPServer, error) {
	var resp struct {
		Servers []MCPServer `json:"servers"`
	}
	if err := c.do(ctx, http.MethodGet, "/mcp/servers", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// ProbeMCPServer handshakes with a registered MCP server and returns the tool
// names it advertises.
func (c *Client) ProbeMCPServer(ctx context.Context, name string) ([]string, error) {
	var resp struct {
		Tools []string `json:"tools"`
	}
	if err := c.do(ctx, http.MethodPost, "/mcp/servers/"+url.PathEscape(name)+"/probe", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// RemoveMCPServer deletes a registered MCP server by name.
func (c *Client) RemoveMCPServer(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/mcp/servers/"+url.PathEscape(name), nil, http.StatusNoContent, nil)
}

// ListSessions returns the CLI's stored session identifiers.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	var resp struct {
		Sessions []string `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// DeleteSession removes a stored CLI session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

// ListExtensions returns the installed CLI extensions.
func (c *Client) ListExtensions(ctx context.Context) ([]string, error) {
	var resp struct {
		Extensions []string `json:"extensions"`
	}
	if err := c.do(ctx, http.MethodGet, "/extensions", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Extensions, nil
}

// do performs one request, expecting the given status, decoding into out when
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError turns a non-success response into an error, preserving the
// server's message when present.
func (c *Client) apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &body)

	msg := body.Error
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if resp.StatusCode == http.StatusNotFound {
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return ErrNotFound
	}
	if msg != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
