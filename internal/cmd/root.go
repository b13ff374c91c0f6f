// Package cmd wires the agentd command tree: a REST daemon, a one-shot
// synchronous runner, and an MCP stdio facade, all driving the same engine.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/agentd/internal/config"
	"github.com/harrison/agentd/internal/engine"
	"github.com/harrison/agentd/internal/gemini"
	"github.com/harrison/agentd/internal/registry"
	"github.com/harrison/agentd/internal/store"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for agentd
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentd",
		Short: "Agentic code-generation task service",
		Long: `Agentd turns natural-language prompts into generated or modified files by
supervising the Gemini CLI in isolated per-task workspaces.

It offers a REST API with asynchronous task tracking, a one-shot command-line
mode, and an MCP stdio facade, with bounded concurrency and safe cancellation.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .agentd/config.yaml)")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewMCPCommand())

	return cmd
}

// loadConfig resolves the --config flag and loads configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = ".agentd/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openStore creates the configured task record store.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return store.NewSQLiteStore(cfg.SQLitePath())
	default:
		return store.NewMemoryStore(), nil
	}
}

// buildEngine assembles the engine with its store, runner, and registry.
func buildEngine(cfg *config.Config, log engine.Logger) (*engine.Engine, store.Store, *registry.Registry, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open task store: %w", err)
	}

	reg := registry.New(cfg.RegistryPath())
	runner := gemini.NewCLIRunner(cfg.Gemini.Path, cfg.Gemini.APIKey)

	return engine.New(cfg, st, runner, reg, log), st, reg, nil
}
