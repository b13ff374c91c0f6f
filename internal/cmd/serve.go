package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/agentd/internal/config"
	"github.com/harrison/agentd/internal/engine"
	"github.com/harrison/agentd/internal/gemini"
	"github.com/harrison/agentd/internal/logger"
	"github.com/harrison/agentd/internal/models"
	"github.com/harrison/agentd/internal/server"
	"github.com/harrison/agentd/internal/store"
)

// shutdownTimeout bounds graceful teardown of in-flight tasks and the
// HTTP listener.
const shutdownTimeout = 30 * time.Second

// sweepInterval is how often the retention sweep runs.
const sweepInterval = 10 * time.Minute

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agentd REST server",
		Long: `Start the REST server: submit tasks, poll their state, cancel them, and
manage MCP server registrations over HTTP.

Configuration is loaded from .agentd/config.yaml if present; flags override
configuration file settings. The GEMINI_API_KEY environment variable is passed
through to the agent subprocesses.

Examples:
  agentd serve
  agentd serve --port 9000 --max-concurrency 8
  agentd serve --store sqlite`,
		Args: cobra.NoArgs,
		RunE: serveCommand,
	}

	cmd.Flags().String("host", "", "Bind address (overrides config)")
	cmd.Flags().Int("port", 0, "Listen port (overrides config)")
	cmd.Flags().Int("max-concurrency", 0, "Maximum concurrent tasks (overrides config)")
	cmd.Flags().String("store", "", "Task store backend: memory or sqlite (overrides config)")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	return cmd
}

func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()
	log := logger.NewMulti(logger.NewConsoleLogger(os.Stderr, cfg.LogLevel), fileLog)

	e, st, reg, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// Every finished task gets a detail log under <log-dir>/tasks/.
	e.SetFinishHook(func(task *models.Task) {
		if err := fileLog.LogTaskRecord(task); err != nil {
			log.Warnf("task %s: write task log: %v", task.ID, err)
		}
	})

	svc := gemini.NewService(cfg.Gemini.Path)
	api := server.New(e, reg, svc, log, Version)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: api.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Store.Retention > 0 {
		go sweepLoop(ctx, st, cfg.Store.Retention, log)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("agentd %s listening on %s (max concurrency %d, store %s)",
			Version, httpServer.Addr, cfg.MaxConcurrency, cfg.Store.Backend)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warnf("engine shutdown: %v", err)
	}
	return nil
}

// applyServeFlags overlays command-line flags onto the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v > 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetInt("max-concurrency"); v > 0 {
		cfg.MaxConcurrency = v
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store.Backend = config.StoreBackend(v)
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
}

// sweepLoop periodically deletes terminal tasks older than the retention
// window.
func sweepLoop(ctx context.Context, st store.Store, retention time.Duration, log engine.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := st.Sweep(ctx, time.Now().UTC().Add(-retention))
			if err != nil {
				log.Warnf("retention sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Infof("retention sweep removed %d task(s)", removed)
			}
		}
	}
}
