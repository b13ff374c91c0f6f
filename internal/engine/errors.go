package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutError means the task's wall-clock deadline elapsed before the agent
// subprocess exited. The task transitions to failed.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: timeout after %v", e.TaskID, e.Timeout)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// CancelledError means the task was cancelled by an explicit user request.
// It is not a failure: the task transitions to cancelled.
type CancelledError struct {
	TaskID string
}

// Error implements the error interface for CancelledError.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("task %s: cancelled", e.TaskID)
}

// Unwrap returns context.Canceled to support error wrapping.
func (e *CancelledError) Unwrap() error {
	return context.Canceled
}

// AgentExecutionError means the agent subprocess ran but exited non-zero:
// the common "agent couldn't complete the task" case. The stderr excerpt is
// what clients see; raw exit codes stay in the result.
type AgentExecutionError struct {
	TaskID   string
	ExitCode int
	Stderr   string
}

// Error implements the error interface for AgentExecutionError.
func (e *AgentExecutionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("agent exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("agent exited with code %d", e.ExitCode)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or
// context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCancelledError checks if the error is or wraps a CancelledError.
func IsCancelledError(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// excerpt returns the last n bytes of s, for surfacing stderr tails in
// results without flooding them.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
