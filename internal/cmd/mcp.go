package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/agentd/internal/logger"
	"github.com/harrison/agentd/internal/mcpserver"
)

// NewMCPCommand creates the mcp command
func NewMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the task engine as an MCP stdio server",
		Long: `Expose agentd's task tools (agent-run, agent-submit, agent-status,
agent-wait, agent-cancel) over the Model Context Protocol on stdin/stdout.

Intended to be spawned by an MCP client, e.g. from an editor configuration:

  {"command": "agentd", "args": ["mcp"]}

Logs go to stderr; stdout carries the MCP framing.`,
		Args: cobra.NoArgs,
		RunE: mcpCommand,
	}
}

func mcpCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout belongs to the MCP transport.
	log := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)

	e, st, _, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	return mcpserver.Serve(cmd.Context(), e, Version)
}
