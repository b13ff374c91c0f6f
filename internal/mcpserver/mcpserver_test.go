package mcpserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/agentd/internal/models"
)

func TestRunInputToTaskConfig(t *testing.T) {
	in := RunInput{
		Prompt:             "p",
		Model:              "gemini-2.5-pro",
		ApprovalMode:       "yolo",
		Sandbox:            true,
		MCPServers:         []string{"github"},
		IncludeDirectories: []string{"/srv/shared"},
		TimeoutSeconds:     90,
		Files:              map[string]string{"a.txt": "x"},
	}

	cfg := in.toTaskConfig()
	assert.Equal(t, "gemini-2.5-pro", cfg.Model)
	assert.Equal(t, models.ApprovalYolo, cfg.ApprovalMode)
	assert.True(t, cfg.Sandbox)
	assert.Equal(t, []string{"github"}, cfg.MCPServers)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, "x", cfg.Files["a.txt"])
}

func TestTaskResultShape(t *testing.T) {
	created := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	finished := created.Add(5 * time.Second)
	task := &models.Task{
		ID:         "t-1",
		Prompt:     "p",
		State:      models.StateSucceeded,
		CreatedAt:  created,
		StartedAt:  &created,
		FinishedAt: &finished,
		Result: &models.Result{
			Success:       true,
			Response:      "done",
			ModifiedFiles: map[string]string{"fib.py": "..."},
		},
	}

	out := taskResult(task)
	assert.Equal(t, "t-1", out["id"])
	assert.Equal(t, "succeeded", out["state"])
	assert.Equal(t, created.Format(time.RFC3339), out["created_at"])

	result, ok := out["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "done", result["response"])
	assert.NotContains(t, result, "error")
}

func TestTaskResultOmitsResultWhileRunning(t *testing.T) {
	task := &models.Task{
		ID:        "t-2",
		State:     models.StateRunning,
		CreatedAt: time.Now().UTC(),
	}

	out := taskResult(task)
	assert.NotContains(t, out, "result")
	assert.NotContains(t, out, "finished_at")
}
