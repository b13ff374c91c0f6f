// Package config loads and validates the process-wide agentd configuration.
// Configuration is read once at startup and treated as immutable afterwards;
// components receive it by reference and never consult ambient global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/agentd/internal/models"
)

// StoreBackend selects the task record store implementation.
type StoreBackend string

const (
	// BackendMemory keeps task records in an in-process map.
	BackendMemory StoreBackend = "memory"
	// BackendSQLite persists task records in a SQLite database.
	BackendSQLite StoreBackend = "sqlite"
)

// StoreConfig configures the task record store.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend StoreBackend `yaml:"backend"`

	// Path is the SQLite database path (ignored for the memory backend).
	Path string `yaml:"path"`

	// Retention is how long terminal tasks are kept before the background
	// sweep deletes them. Zero keeps tasks until process teardown.
	Retention time.Duration `yaml:"retention"`
}

// GeminiConfig configures the external agent CLI.
type GeminiConfig struct {
	// Path is the gemini binary path. Defaults to "gemini" (found in PATH).
	Path string `yaml:"path"`

	// APIKey is passed opaquely to the subprocess environment. Never logged,
	// never inspected. Usually supplied via GEMINI_API_KEY rather than the file.
	APIKey string `yaml:"api_key"`

	// Model is the default model override. Empty lets the CLI choose.
	Model string `yaml:"model"`

	// ApprovalMode is the default tool approval mode.
	ApprovalMode models.ApprovalMode `yaml:"approval_mode"`

	// OutputFormat is the default CLI output format.
	OutputFormat models.OutputFormat `yaml:"output_format"`

	// Timeout is the default wall-clock limit per task.
	Timeout time.Duration `yaml:"timeout"`
}

// Config represents agentd configuration options.
type Config struct {
	// Host and Port bind the REST listener.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MaxConcurrency bounds the number of simultaneously running agent
	// subprocesses. Excess submissions queue FIFO.
	MaxConcurrency int `yaml:"max_concurrency"`

	// DataDir holds the MCP registry file and the default SQLite database.
	DataDir string `yaml:"data_dir"`

	// WorkspaceDir is the parent directory for per-task workspaces.
	// Empty uses the OS temp directory.
	WorkspaceDir string `yaml:"workspace_dir"`

	// LogLevel sets logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written.
	LogDir string `yaml:"log_dir"`

	Gemini GeminiConfig `yaml:"gemini"`
	Store  StoreConfig  `yaml:"store"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8000,
		MaxConcurrency: 4,
		DataDir:        ".agentd",
		LogLevel:       "info",
		LogDir:         filepath.Join(".agentd", "logs"),
		Gemini: GeminiConfig{
			Path:         "gemini",
			ApprovalMode: models.ApprovalYolo,
			OutputFormat: models.OutputJSON,
			Timeout:      5 * time.Minute,
		},
		Store: StoreConfig{
			Backend:   BackendMemory,
			Retention: time.Hour,
		},
	}
}

// Load reads configuration from the given file path, merged over defaults,
// then applies environment overrides. A missing file is not an error: the
// defaults (plus environment) are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := unmarshalYAML(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unmarshalYAML parses the YAML payload over cfg, accepting duration fields
// as strings like "300s" or "5m".
func unmarshalYAML(data []byte, cfg *Config) error {
	type yamlStore struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		Retention string `yaml:"retention"`
	}
	type yamlGemini struct {
		Path         string `yaml:"path"`
		APIKey       string `yaml:"api_key"`
		Model        string `yaml:"model"`
		ApprovalMode string `yaml:"approval_mode"`
		OutputFormat string `yaml:"output_format"`
		Timeout      string `yaml:"timeout"`
	}
	type yamlConfig struct {
		Host           *string    `yaml:"host"`
		Port           *int       `yaml:"port"`
		MaxConcurrency *int       `yaml:"max_concurrency"`
		DataDir        *string    `yaml:"data_dir"`
		WorkspaceDir   *string    `yaml:"workspace_dir"`
		LogLevel       *string    `yaml:"log_level"`
		LogDir         *string    `yaml:"log_dir"`
		Gemini         yamlGemini `yaml:"gemini"`
		Store          yamlStore  `yaml:"store"`
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if yc.Host != nil {
		cfg.Host = *yc.Host
	}
	if yc.Port != nil {
		cfg.Port = *yc.Port
	}
	if yc.MaxConcurrency != nil {
		cfg.MaxConcurrency = *yc.MaxConcurrency
	}
	if yc.DataDir != nil {
		cfg.DataDir = *yc.DataDir
	}
	if yc.WorkspaceDir != nil {
		cfg.WorkspaceDir = *yc.WorkspaceDir
	}
	if yc.LogLevel != nil {
		cfg.LogLevel = *yc.LogLevel
	}
	if yc.LogDir != nil {
		cfg.LogDir = *yc.LogDir
	}

	if yc.Gemini.Path != "" {
		cfg.Gemini.Path = yc.Gemini.Path
	}
	if yc.Gemini.APIKey != "" {
		cfg.Gemini.APIKey = yc.Gemini.APIKey
	}
	if yc.Gemini.Model != "" {
		cfg.Gemini.Model = yc.Gemini.Model
	}
	if yc.Gemini.ApprovalMode != "" {
		cfg.Gemini.ApprovalMode = models.ApprovalMode(yc.Gemini.ApprovalMode)
	}
	if yc.Gemini.OutputFormat != "" {
		cfg.Gemini.OutputFormat = models.OutputFormat(yc.Gemini.OutputFormat)
	}
	if yc.Gemini.Timeout != "" {
		d, err := time.ParseDuration(yc.Gemini.Timeout)
		if err != nil {
			return fmt.Errorf("invalid gemini.timeout: %w", err)
		}
		cfg.Gemini.Timeout = d
	}

	if yc.Store.Backend != "" {
		cfg.Store.Backend = StoreBackend(yc.Store.Backend)
	}
	if yc.Store.Path != "" {
		cfg.Store.Path = yc.Store.Path
	}
	if yc.Store.Retention != "" {
		d, err := time.ParseDuration(yc.Store.Retention)
		if err != nil {
			return fmt.Errorf("invalid store.retention: %w", err)
		}
		cfg.Store.Retention = d
	}

	return nil
}

// applyEnv overlays environment variables onto the config. The API key is
// deliberately env-first so it never needs to live in a file on disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("AGENTD_GEMINI_PATH"); v != "" {
		c.Gemini.Path = v
	}
	if v := os.Getenv("AGENTD_MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("AGENTD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks configuration invariants once at startup.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("gemini.timeout must be positive, got %v", c.Gemini.Timeout)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("store.retention must not be negative, got %v", c.Store.Retention)
	}
	switch c.Gemini.ApprovalMode {
	case models.ApprovalDefault, models.ApprovalAutoEdit, models.ApprovalYolo:
	default:
		return fmt.Errorf("unknown approval mode %q", c.Gemini.ApprovalMode)
	}
	switch c.Gemini.OutputFormat {
	case models.OutputText, models.OutputJSON, models.OutputStreamJSON:
	default:
		return fmt.Errorf("unknown output format %q", c.Gemini.OutputFormat)
	}
	return nil
}

// SQLitePath returns the effective database path for the SQLite backend.
func (c *Config) SQLitePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "tasks.db")
}

// RegistryPath returns the MCP registry file path.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "mcp_servers.json")
}
