package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/agentd/internal/config"
	"github.com/harrison/agentd/internal/engine"
	"github.com/harrison/agentd/internal/gemini"
	"github.com/harrison/agentd/internal/models"
	"github.com/harrison/agentd/internal/registry"
	"github.com/harrison/agentd/internal/store"
)

// echoRunner completes instantly and writes one file into the workspace.
type echoRunner struct{}

func (echoRunner) Start(ctx context.Context, prompt string, opts gemini.Options) (gemini.Handle, error) {
	if err := os.WriteFile(filepath.Join(opts.Workspace, "out.txt"), []byte(prompt), 0644); err != nil {
		return nil, err
	}
	return doneHandle{}, nil
}

type doneHandle struct{}

func (doneHandle) Wait(timeout time.Duration) gemini.Outcome {
	return gemini.Outcome{Kind: gemini.OutcomeCompleted, Stdout: `{"response":"ok"}`}
}

func (doneHandle) Cancel() error { return nil }

// fakeCLI writes a shell script standing in for the gemini binary.
func fakeCLI(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gemini")
	script := `#!/bin/sh
case "$1" in
  --version) echo "0.4.1" ;;
  --list-sessions) echo "sess-1"; echo "sess-2" ;;
  --list-extensions) echo "ext-a" ;;
  --delete-session) [ -n "$2" ] || exit 1 ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.MaxConcurrency = 2
	cfg.WorkspaceDir = t.TempDir()

	e := engine.New(cfg, store.NewMemoryStore(), echoRunner{}, nil, nil)
	reg := registry.New(filepath.Join(t.TempDir(), "mcp_servers.json"))
	svc := gemini.NewService(fakeCLI(t))

	ts := httptest.NewServer(New(e, reg, svc, nil, "test").Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func doDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSubmitAndPollTask(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/tasks", map[string]any{"prompt": "hello world"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	decode(t, resp, &submitted)
	require.NotEmpty(t, submitted.ID)
	assert.Equal(t, "pending", submitted.State)

	// Poll until terminal.
	deadline := time.Now().Add(5 * time.Second)
	var task taskResponse
	for {
		getResp, err := http.Get(ts.URL + "/tasks/" + submitted.ID)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, getResp.StatusCode)
		decode(t, getResp, &task)
		if task.State.IsTerminal() {
			break
		}
		require.True(t, time.Now().Before(deadline), "task never finished")
		time.Sleep(20 * time.Millisecond)
	}

	assert.Equal(t, models.StateSucceeded, task.State)
	require.NotNil(t, task.Result)
	assert.True(t, task.Result.Success)
	assert.Equal(t, "ok", task.Result.Response)
	assert.Equal(t, "hello world", task.Result.ModifiedFiles["out.txt"])
	assert.NotNil(t, task.FinishedAt)
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/tasks", map[string]any{"prompt": ""})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/tasks", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownTask(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/tasks/no-such-task")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelUnknownTask(t *testing.T) {
	ts := newTestServer(t)

	resp := doDelete(t, ts.URL+"/tasks/no-such-task")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListTasks(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp := postJSON(t, ts.URL+"/tasks", map[string]any{"prompt": "p"})
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/tasks")
	require.NoError(t, err)
	var listed struct {
		Tasks []taskResponse `json:"tasks"`
	}
	decode(t, resp, &listed)
	assert.Len(t, listed.Tasks, 2)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	decode(t, resp, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "0.4.1", health.GeminiVersion)
	assert.NotNil(t, health.MCPServers)
}

func TestMCPServerLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/mcp/servers", models.MCPServer{
		Name:    "github",
		Command: "github-mcp-server",
		Args:    []string{"stdio"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, err := http.Get(ts.URL + "/mcp/servers")
	require.NoError(t, err)
	var listed struct {
		Servers []models.MCPServer `json:"servers"`
	}
	decode(t, listResp, &listed)
	require.Len(t, listed.Servers, 1)
	assert.Equal(t, "github", listed.Servers[0].Name)

	delResp := doDelete(t, ts.URL+"/mcp/servers/github")
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	missingResp := doDelete(t, ts.URL+"/mcp/servers/github")
	missingResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, missingResp.StatusCode)
}

func TestProbeMCPServer(t *testing.T) {
	ts := newTestServer(t)

	probeResp := postJSON(t, ts.URL+"/mcp/servers/missing/probe", nil)
	probeResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, probeResp.StatusCode)

	// A command that exits without speaking MCP fails the handshake.
	resp := postJSON(t, ts.URL+"/mcp/servers", models.MCPServer{
		Name:    "mute",
		Command: "true",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	badResp := postJSON(t, ts.URL+"/mcp/servers/mute/probe", nil)
	defer badResp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, badResp.StatusCode)
}

func TestAddMCPServerRejectsInvalid(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/mcp/servers", models.MCPServer{Name: "bare"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionsAndExtensions(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	var sessions struct {
		Sessions []string `json:"sessions"`
	}
	decode(t, resp, &sessions)
	assert.Equal(t, []string{"sess-1", "sess-2"}, sessions.Sessions)

	delResp := doDelete(t, ts.URL+"/sessions/sess-1")
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	extResp, err := http.Get(ts.URL + "/extensions")
	require.NoError(t, err)
	var extensions struct {
		Extensions []string `json:"extensions"`
	}
	decode(t, extResp, &extensions)
	assert.Equal(t, []string{"ext-a"}, extensions.Extensions)
}

func TestTaskTimeoutSecondsIsHonored(t *testing.T) {
	req := taskConfigRequest{TimeoutSeconds: 2.5}
	cfg := req.toTaskConfig()
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
}
