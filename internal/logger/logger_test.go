package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/agentd/internal/models"
)

func TestConsoleLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "info")

	cl.Debugf("hidden %s", "debug")
	cl.Infof("visible info")
	cl.Warnf("visible warn")
	cl.Errorf("visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden debug")
	assert.Contains(t, out, "[INFO] visible info")
	assert.Contains(t, out, "[WARN] visible warn")
	assert.Contains(t, out, "[ERROR] visible error")
}

func TestConsoleLoggerDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	cl := NewConsoleLogger(&buf, "debug")

	cl.Debugf("now visible")
	assert.Contains(t, buf.String(), "[DEBUG] now visible")
}

func TestConsoleLoggerNilWriter(t *testing.T) {
	cl := NewConsoleLogger(nil, "info")
	assert.NotPanics(t, func() { cl.Infof("dropped") })
}

func TestNormalizeLogLevel(t *testing.T) {
	assert.Equal(t, "debug", normalizeLogLevel("DEBUG"))
	assert.Equal(t, "warn", normalizeLogLevel(" warn "))
	assert.Equal(t, "info", normalizeLogLevel(""))
	assert.Equal(t, "info", normalizeLogLevel("verbose"))
}

func TestFileLoggerWritesRunLogAndSymlink(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, "info")
	require.NoError(t, err)
	defer fl.Close()

	fl.Infof("task %s submitted", "abc")

	data, err := os.ReadFile(fl.RunFile())
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "=== Agentd Run Log ===")
	assert.Contains(t, content, "[INFO] task abc submitted")

	target, err := os.Readlink(filepath.Join(dir, "latest.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(fl.RunFile()), target)
}

func TestFileLoggerLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, "error")
	require.NoError(t, err)
	defer fl.Close()

	fl.Infof("quiet")
	fl.Errorf("loud")

	data, err := os.ReadFile(fl.RunFile())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}

func TestFileLoggerTaskRecord(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, "info")
	require.NoError(t, err)
	defer fl.Close()

	started := time.Now().UTC().Add(-3 * time.Second)
	finished := time.Now().UTC()
	task := &models.Task{
		ID:         "task-123",
		Prompt:     "create a fibonacci function",
		State:      models.StateSucceeded,
		CreatedAt:  started,
		StartedAt:  &started,
		FinishedAt: &finished,
		Result: &models.Result{
			Success:       true,
			Response:      "done",
			ModifiedFiles: map[string]string{"fib.py": "def fib(n): ..."},
		},
	}

	require.NoError(t, fl.LogTaskRecord(task))

	data, err := os.ReadFile(filepath.Join(dir, "tasks", "task-task-123.log"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "=== Task task-123 ===")
	assert.Contains(t, content, "State: succeeded")
	assert.Contains(t, content, "create a fibonacci function")
	assert.Contains(t, content, "fib.py")
}

func TestMultiFansOut(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMulti(NewConsoleLogger(&a, "info"), NewConsoleLogger(&b, "info"), nil)

	m.Infof("both sides")
	assert.Contains(t, a.String(), "both sides")
	assert.Contains(t, b.String(), "both sides")
}

func TestFileLoggerCloseIsIdempotentEnough(t *testing.T) {
	dir := t.TempDir()
	fl, err := NewFileLogger(dir, "info")
	require.NoError(t, err)

	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close())

	// Writes after close are dropped, not panics.
	assert.NotPanics(t, func() { fl.Infof("after close") })
	assert.False(t, strings.Contains(readFile(t, fl.RunFile()), "after close"))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
