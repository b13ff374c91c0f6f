package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/agentd/internal/config"
	"github.com/harrison/agentd/internal/models"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "mcp")
}

func TestRootCommandVersion(t *testing.T) {
	root := NewRootCommand()
	assert.NotEmpty(t, root.Version)
}

func TestOpenStoreBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = config.BackendMemory
	st, err := openStore(cfg)
	require.NoError(t, err)
	st.Close()

	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "tasks.db")
	st, err = openStore(cfg)
	require.NoError(t, err)
	st.Close()
}

func TestTaskConfigFromFlags(t *testing.T) {
	cmd := NewRunCommand()
	require.NoError(t, cmd.Flags().Set("model", "gemini-2.5-pro"))
	require.NoError(t, cmd.Flags().Set("approval-mode", "auto_edit"))
	require.NoError(t, cmd.Flags().Set("timeout", "90s"))
	require.NoError(t, cmd.Flags().Set("mcp-server", "github"))

	taskCfg, err := taskConfigFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", taskCfg.Model)
	assert.Equal(t, models.ApprovalAutoEdit, taskCfg.ApprovalMode)
	assert.Equal(t, 90*time.Second, taskCfg.Timeout)
	assert.Equal(t, []string{"github"}, taskCfg.MCPServers)
}

func TestTaskConfigFromFlagsReadsFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "util.py")
	require.NoError(t, os.WriteFile(path, []byte("def f(): pass\n"), 0644))

	cmd := NewRunCommand()
	require.NoError(t, cmd.Flags().Set("file", path))

	taskCfg, err := taskConfigFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "def f(): pass\n", taskCfg.Files["util.py"])
}

func TestTaskConfigFromFlagsRejectsBadTimeout(t *testing.T) {
	cmd := NewRunCommand()
	require.NoError(t, cmd.Flags().Set("timeout", "soon"))

	_, err := taskConfigFromFlags(cmd)
	assert.Error(t, err)
}

func TestTaskConfigFromFlagsMissingFile(t *testing.T) {
	cmd := NewRunCommand()
	require.NoError(t, cmd.Flags().Set("file", filepath.Join(t.TempDir(), "absent.py")))

	_, err := taskConfigFromFlags(cmd)
	assert.Error(t, err)
}
