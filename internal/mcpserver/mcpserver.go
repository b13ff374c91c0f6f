// Package mcpserver exposes the task engine as an MCP stdio server, so MCP
// clients (editors, other agents) can submit and track code-generation tasks
// without going through the REST API.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harrison/agentd/internal/engine"
	"github.com/harrison/agentd/internal/models"
)

// RunInput is the input for the agent-run and agent-submit tools.
type RunInput struct {
	Prompt             string            `json:"prompt"`
	Model              string            `json:"model,omitempty"`
	ApprovalMode       string            `json:"approval-mode,omitempty"`
	Sandbox            bool              `json:"sandbox,omitempty"`
	MCPServers         []string          `json:"mcp-servers,omitempty"`
	IncludeDirectories []string          `json:"include-directories,omitempty"`
	TimeoutSeconds     float64           `json:"timeout_seconds,omitempty"`
	Files              map[string]string `json:"files,omitempty"`
}

// TaskInput identifies a task for the status, wait, and cancel tools.
type TaskInput struct {
	ID string `json:"id"`
}

func (in RunInput) toTaskConfig() models.TaskConfig {
	return models.TaskConfig{
		Model:              in.Model,
		ApprovalMode:       models.ApprovalMode(in.ApprovalMode),
		Sandbox:            in.Sandbox,
		MCPServers:         in.MCPServers,
		IncludeDirectories: in.IncludeDirectories,
		Timeout:            time.Duration(in.TimeoutSeconds * float64(time.Second)),
		Files:              in.Files,
	}
}

// Serve registers the agent tools and blocks serving MCP over stdio until
// the client disconnects or ctx is done.
func Serve(ctx context.Context, e *engine.Engine, version string) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "agentd",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "agent-run",
		Description: `Run a code-generation task and wait for the result.

Parameters:
- prompt (required): The task for the agent
- model: Model override (e.g., "gemini-2.5-pro")
- approval-mode: "default", "auto_edit", "yolo"
- sandbox: Run the agent sandboxed
- mcp-servers: Registered MCP server names the agent may use
- include-directories: Additional directories to expose
- timeout_seconds: Wall-clock limit for the run
- files: Relative path -> content, written into the workspace before the run`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input RunInput) (*mcp.CallToolResult, map[string]any, error) {
		if input.Prompt == "" {
			return nil, nil, fmt.Errorf("prompt is required")
		}
		task, err := e.Run(ctx, input.Prompt, input.toTaskConfig())
		if err != nil {
			return nil, nil, err
		}
		return nil, taskResult(task), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "agent-submit",
		Description: `Submit a code-generation task and return its id immediately.
Use agent-status or agent-wait to track it. Same parameters as agent-run.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input RunInput) (*mcp.CallToolResult, map[string]any, error) {
		if input.Prompt == "" {
			return nil, nil, fmt.Errorf("prompt is required")
		}
		id, err := e.Submit(ctx, input.Prompt, input.toTaskConfig())
		if err != nil {
			return nil, nil, err
		}
		return nil, map[string]any{"id": id, "state": string(models.StatePending)}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "agent-status",
		Description: `Get the current state of a task.

Parameters:
- id (required): Task id from agent-submit`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input TaskInput) (*mcp.CallToolResult, map[string]any, error) {
		task, err := e.Get(ctx, input.ID)
		if err != nil {
			return nil, nil, err
		}
		return nil, taskResult(task), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "agent-wait",
		Description: `Block until a task reaches a terminal state and return it.

Parameters:
- id (required): Task id from agent-submit`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input TaskInput) (*mcp.CallToolResult, map[string]any, error) {
		task, err := e.Wait(ctx, input.ID)
		if err != nil {
			return nil, nil, err
		}
		return nil, taskResult(task), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "agent-cancel",
		Description: `Cancel a queued or running task. Cancelling a finished task is a no-op.

Parameters:
- id (required): Task id from agent-submit`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, input TaskInput) (*mcp.CallToolResult, map[string]any, error) {
		task, err := e.Cancel(ctx, input.ID)
		if err != nil {
			return nil, nil, err
		}
		return nil, taskResult(task), nil
	})

	session, err := server.Connect(ctx, &mcp.StdioTransport{}, nil)
	if err != nil {
		return fmt.Errorf("mcp stdio connect failed: %w", err)
	}
	return session.Wait()
}

// taskResult renders a task record as MCP structured content.
func taskResult(task *models.Task) map[string]any {
	out := map[string]any{
		"id":         task.ID,
		"state":      string(task.State),
		"created_at": task.CreatedAt.Format(time.RFC3339),
	}
	if task.StartedAt != nil {
		out["started_at"] = task.StartedAt.Format(time.RFC3339)
	}
	if task.FinishedAt != nil {
		out["finished_at"] = task.FinishedAt.Format(time.RFC3339)
	}
	if task.Result != nil {
		result := map[string]any{
			"success":   task.Result.Success,
			"exit_code": task.Result.ExitCode,
		}
		if task.Result.Response != "" {
			result["response"] = task.Result.Response
		}
		if len(task.Result.ModifiedFiles) > 0 {
			result["modified_files"] = task.Result.ModifiedFiles
		}
		if task.Result.Error != "" {
			result["error"] = task.Result.Error
		}
		out["result"] = result
	}
	return out
}
