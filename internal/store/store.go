// Package store provides the task record store: the single mutation path for
// task state. All state transitions go through CompareAndSet, which is what
// makes the at-most-once terminal-write guarantee hold without a global lock.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/agentd/internal/models"
)

// ErrDuplicateTask is returned by Create when the task id already exists.
// An id, once issued, identifies exactly one task for the lifetime of the store.
var ErrDuplicateTask = errors.New("task id already exists")

// ErrTaskNotFound is returned when the given task id is unknown.
var ErrTaskNotFound = errors.New("task not found")

// UnavailableError wraps backend failures (connection loss, disk errors).
// It is propagated to the caller and never retried inside the engine.
type UnavailableError struct {
	Op  string
	Err error
}

// Error implements the error interface for UnavailableError.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error wrapping support.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable checks if the error is or wraps an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Store is the task record store contract. Implementations must make
// CompareAndSet atomic: no two transitions into a terminal state can both
// succeed for the same task.
type Store interface {
	// Create registers a new task record. Fails with ErrDuplicateTask if the
	// id is already present.
	Create(ctx context.Context, task *models.Task) error

	// Get returns a copy of the task, or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*models.Task, error)

	// CompareAndSet atomically applies the patch and moves the task from
	// expected to next, returning true on success. A false return means
	// another actor already transitioned the task; the caller must not
	// retry blindly.
	CompareAndSet(ctx context.Context, id string, expected, next models.TaskState, patch models.Patch) (bool, error)

	// Delete removes the task record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// List returns copies of all task records in creation order.
	List(ctx context.Context) ([]*models.Task, error)

	// Sweep deletes terminal tasks that finished before cutoff and returns
	// how many were removed. Retention policy is a configuration concern;
	// the store only executes it.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}

// applyPatch copies the non-nil patch fields onto the task. Shared by the
// backends so both apply identical transition semantics.
func applyPatch(task *models.Task, next models.TaskState, patch models.Patch) {
	task.State = next
	if patch.StartedAt != nil {
		task.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		task.FinishedAt = patch.FinishedAt
	}
	if patch.Result != nil {
		task.Result = patch.Result
	}
}
