package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/agentd/internal/logger"
	"github.com/harrison/agentd/internal/models"
	"github.com/harrison/agentd/internal/workspace"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run a single code-generation task and wait for the result",
		Long: `Run one task synchronously: the prompt is handed to the agent CLI in a
fresh workspace, and the files it creates or modifies are reported back.

Examples:
  agentd run "Create a Python function that returns fibonacci numbers"
  agentd run --model gemini-2.5-pro --timeout 10m "Refactor util.py" --file util.py
  agentd run --out ./generated "Write a REST client for the petstore API"
  agentd run --json "Add unit tests for parser.go" --file parser.go`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("model", "", "Model override (e.g. gemini-2.5-pro)")
	cmd.Flags().String("approval-mode", "", "Tool approval mode: default, auto_edit, yolo")
	cmd.Flags().Bool("sandbox", false, "Run the agent sandboxed")
	cmd.Flags().String("timeout", "", "Wall-clock limit (e.g. 90s, 10m)")
	cmd.Flags().StringArray("file", nil, "Local file to place in the workspace (repeatable)")
	cmd.Flags().StringArray("mcp-server", nil, "Registered MCP server name the agent may use (repeatable)")
	cmd.Flags().String("out", "", "Directory to write modified files into")
	cmd.Flags().Bool("json", false, "Print the full task record as JSON")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	taskCfg, err := taskConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	log := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)
	e, st, _, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	task, err := e.Run(cmd.Context(), args[0], taskCfg)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	}

	return printTask(cmd, task)
}

// taskConfigFromFlags builds the per-task config from command-line flags.
func taskConfigFromFlags(cmd *cobra.Command) (models.TaskConfig, error) {
	var taskCfg models.TaskConfig

	taskCfg.Model, _ = cmd.Flags().GetString("model")
	if v, _ := cmd.Flags().GetString("approval-mode"); v != "" {
		taskCfg.ApprovalMode = models.ApprovalMode(v)
	}
	taskCfg.Sandbox, _ = cmd.Flags().GetBool("sandbox")
	taskCfg.MCPServers, _ = cmd.Flags().GetStringArray("mcp-server")

	if v, _ := cmd.Flags().GetString("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return taskCfg, fmt.Errorf("invalid timeout: %w", err)
		}
		taskCfg.Timeout = d
	}

	paths, _ := cmd.Flags().GetStringArray("file")
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return taskCfg, fmt.Errorf("failed to read input file: %w", err)
		}
		if taskCfg.Files == nil {
			taskCfg.Files = make(map[string]string)
		}
		taskCfg.Files[filepath.Base(path)] = string(data)
	}

	return taskCfg, nil
}

// printTask renders the terminal record for interactive use and writes
// modified files to --out when requested.
func printTask(cmd *cobra.Command, task *models.Task) error {
	out := cmd.OutOrStdout()

	if task.Result == nil {
		fmt.Fprintf(out, "Task %s: %s\n", task.ID, task.State)
		return nil
	}

	if task.Result.Response != "" {
		fmt.Fprintln(out, task.Result.Response)
	}

	if len(task.Result.ModifiedFiles) > 0 {
		names := make([]string, 0, len(task.Result.ModifiedFiles))
		for name := range task.Result.ModifiedFiles {
			names = append(names, name)
		}
		fmt.Fprintf(out, "\nModified files: %s\n", strings.Join(names, ", "))

		if outDir, _ := cmd.Flags().GetString("out"); outDir != "" {
			written, err := workspace.Materialize(outDir, task.Result.ModifiedFiles)
			if err != nil {
				return fmt.Errorf("failed to write output files: %w", err)
			}
			fmt.Fprintf(out, "Wrote %d file(s) to %s\n", len(written), outDir)
		}
	}

	if task.State != models.StateSucceeded {
		return fmt.Errorf("task %s: %s", task.State, task.Result.Error)
	}
	return nil
}
