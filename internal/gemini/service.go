package gemini

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// serviceTimeout bounds the quick administrative CLI calls (version, session
// and extension listings). These are interactive-path calls, not task runs.
const serviceTimeout = 30 * time.Second

// Service wraps the Gemini CLI's administrative subcommands: version checks,
// session listing, and extension discovery. Task execution goes through
// Runner, not Service.
type Service struct {
	// Path is the gemini binary path. Defaults to "gemini".
	Path string
}

// NewService creates a Service for the given binary path.
func NewService(path string) *Service {
	if path == "" {
		path = "gemini"
	}
	return &Service{Path: path}
}

// Version returns the CLI version string, or an error if the binary is
// missing or unresponsive.
func (s *Service) Version(ctx context.Context) (string, error) {
	out, err := s.run(ctx, "--version")
	if err != nil {
		return "", fmt.Errorf("gemini version check failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ListSessions returns the CLI's stored session identifiers, one per line of
// CLI output.
func (s *Service) ListSessions(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "--list-sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return splitLines(out), nil
}

// DeleteSession removes a stored session by identifier.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := s.run(ctx, "--delete-session", id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// ListExtensions returns the installed CLI extensions.
func (s *Service) ListExtensions(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "--list-extensions")
	if err != nil {
		return nil, fmt.Errorf("failed to list extensions: %w", err)
	}
	return splitLines(out), nil
}

func (s *Service) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	path := s.Path
	if path == "" {
		path = "gemini"
	}

	cmd := exec.CommandContext(ctx, path, args...)
	SetCleanEnv(cmd, "")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
