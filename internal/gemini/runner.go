// Package gemini invokes the Gemini CLI as a supervised subprocess.
//
// The Runner interface is the capability boundary around the external agent:
// the engine only ever sees start/wait/cancel, so tests replace the real CLI
// with a double implementing the same contract.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/harrison/agentd/internal/models"
)

// DefaultGracePeriod is how long Cancel waits after SIGTERM before escalating
// to SIGKILL on the process group.
const DefaultGracePeriod = 5 * time.Second

// OutcomeKind classifies how a subprocess run ended.
type OutcomeKind int

const (
	// OutcomeCompleted means the process exited on its own. ExitCode may be
	// non-zero; deciding success or failure is the engine's job.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeTimedOut means the wall-clock deadline elapsed and the process
	// was terminated.
	OutcomeTimedOut
	// OutcomeKilled means Cancel terminated the process before it exited.
	OutcomeKilled
)

// String returns a human-readable outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Outcome is the final observation of a subprocess run.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
	Stdout   string
	Stderr   string
}

// Options holds the per-task parameters for one CLI invocation.
type Options struct {
	Workspace          string
	Model              string
	ApprovalMode       models.ApprovalMode
	OutputFormat       models.OutputFormat
	Sandbox            bool
	MCPServers         []string
	AllowedTools       []string
	Extensions         []string
	IncludeDirectories []string
}

// Handle represents one live (or finished) subprocess run.
type Handle interface {
	// Wait blocks until the process exits or the timeout elapses, whichever
	// comes first. It never blocks past the timeout: on expiry the process
	// is terminated and OutcomeTimedOut is returned.
	Wait(timeout time.Duration) Outcome

	// Cancel sends SIGTERM to the process group and escalates to SIGKILL
	// after a grace period. When Cancel returns, neither the process nor its
	// descendants are running.
	Cancel() error
}

// Runner launches agent subprocesses.
type Runner interface {
	Start(ctx context.Context, prompt string, opts Options) (Handle, error)
}

// LaunchError means the agent binary could not be started at all. It is fatal
// for the task, not for the engine.
type LaunchError struct {
	Path string
	Err  error
}

// Error implements the error interface for LaunchError.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch agent %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for error wrapping support.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsLaunchError checks if the error is or wraps a LaunchError.
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}

// CLIRunner runs the real Gemini CLI. Create once, use for many tasks;
// it is safe for concurrent use.
type CLIRunner struct {
	// Path is the gemini binary path. Defaults to "gemini".
	Path string

	// APIKey is injected into the subprocess environment as GEMINI_API_KEY.
	// Treated as opaque; never logged.
	APIKey string

	// GracePeriod overrides DefaultGracePeriod for SIGTERM escalation.
	GracePeriod time.Duration
}

// NewCLIRunner creates a CLIRunner with default settings.
func NewCLIRunner(path, apiKey string) *CLIRunner {
	if path == "" {
		path = "gemini"
	}
	return &CLIRunner{Path: path, APIKey: apiKey, GracePeriod: DefaultGracePeriod}
}

// Start builds the CLI command line and spawns the process with the workspace
// as its working directory. The process gets its own process group so Cancel
// can take down any children the agent spawned.
func (r *CLIRunner) Start(ctx context.Context, prompt string, opts Options) (Handle, error) {
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	args := buildArgs(prompt, opts)

	path := r.Path
	if path == "" {
		path = "gemini"
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = opts.Workspace
	SetCleanEnv(cmd, r.APIKey)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	h := &cliHandle{
		cmd:    cmd,
		stdout: &stdout,
		stderr: &stderr,
		grace:  grace,
		done:   make(chan struct{}),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// buildArgs translates Options into Gemini CLI flags.
func buildArgs(prompt string, opts Options) []string {
	format := opts.OutputFormat
	if format == "" {
		format = models.OutputJSON
	}
	args := []string{"--output-format", string(format)}

	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}

	switch opts.ApprovalMode {
	case models.ApprovalYolo, "":
		args = append(args, "-y")
	default:
		args = append(args, "--approval-mode", string(opts.ApprovalMode))
	}

	if opts.Sandbox {
		args = append(args, "--sandbox")
	}
	if len(opts.MCPServers) > 0 {
		args = append(args, "--allowed-mcp-server-names")
		args = append(args, opts.MCPServers...)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowed-tools")
		args = append(args, opts.AllowedTools...)
	}
	if len(opts.Extensions) > 0 {
		args = append(args, "--extensions")
		args = append(args, opts.Extensions...)
	}
	for _, dir := range opts.IncludeDirectories {
		args = append(args, "--include-directories", dir)
	}

	return append(args, prompt)
}

// cliHandle supervises one running CLI process.
type cliHandle struct {
	cmd     *exec.Cmd
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	grace   time.Duration
	done    chan struct{}
	waitErr error

	mu        sync.Mutex
	cancelled bool
}

func (h *cliHandle) Wait(timeout time.Duration) Outcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return h.outcome()
	case <-timer.C:
	}

	// Deadline elapsed with the process still running: terminate it and
	// report a timeout regardless of how the kill itself went.
	h.Cancel()
	out := h.outcome()
	out.Kind = OutcomeTimedOut
	return out
}

func (h *cliHandle) Cancel() error {
	h.mu.Lock()
	already := h.cancelled
	h.cancelled = true
	h.mu.Unlock()

	pid := h.cmd.Process.Pid

	select {
	case <-h.done:
		// The leader already exited, but background children it spawned may
		// still hold the group open. Sweep the group before returning.
		return killGroup(pid)
	default:
	}

	if !already {
		// Negative pid signals the whole process group.
		syscall.Kill(-pid, syscall.SIGTERM)
	}

	timer := time.NewTimer(h.grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return killGroup(pid)
	case <-timer.C:
	}

	if err := killGroup(pid); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	<-h.done
	return nil
}

// killGroup SIGKILLs the process group. ESRCH means every member is already
// gone, which is the state killGroup exists to reach.
func killGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// outcome builds the final Outcome after the process has exited.
func (h *cliHandle) outcome() Outcome {
	<-h.done

	h.mu.Lock()
	cancelled := h.cancelled
	h.mu.Unlock()

	out := Outcome{
		Kind:   OutcomeCompleted,
		Stdout: h.stdout.String(),
		Stderr: h.stderr.String(),
	}
	if cancelled {
		out.Kind = OutcomeKilled
	}

	if h.waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(h.waitErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		} else {
			out.ExitCode = -1
		}
	}
	return out
}
