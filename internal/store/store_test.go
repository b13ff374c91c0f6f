package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/agentd/internal/models"
)

// backends runs the contract tests against every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func newTask(id string) *models.Task {
	return &models.Task{
		ID:        id,
		Prompt:    "create a fibonacci function",
		State:     models.StatePending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAndGet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newTask("t-1")))

			got, err := s.Get(ctx, "t-1")
			require.NoError(t, err)
			assert.Equal(t, "t-1", got.ID)
			assert.Equal(t, models.StatePending, got.State)
			assert.Nil(t, got.Result)
			assert.Nil(t, got.FinishedAt)
		})
	}
}

func TestCreateDuplicate(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newTask("dup")))
			assert.ErrorIs(t, s.Create(ctx, newTask("dup")), ErrDuplicateTask)
		})
	}
}

func TestGetUnknown(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrTaskNotFound)
		})
	}
}

func TestCompareAndSetTransition(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newTask("t-1")))

			started := time.Now().UTC()
			ok, err := s.CompareAndSet(ctx, "t-1", models.StatePending, models.StateRunning, models.Patch{StartedAt: &started})
			require.NoError(t, err)
			assert.True(t, ok)

			finished := time.Now().UTC()
			result := &models.Result{Success: true, Response: "done"}
			ok, err = s.CompareAndSet(ctx, "t-1", models.StateRunning, models.StateSucceeded, models.Patch{FinishedAt: &finished, Result: result})
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get(ctx, "t-1")
			require.NoError(t, err)
			assert.Equal(t, models.StateSucceeded, got.State)
			require.NotNil(t, got.StartedAt)
			require.NotNil(t, got.FinishedAt)
			require.NotNil(t, got.Result)
			assert.True(t, got.Result.Success)
		})
	}
}

func TestCompareAndSetMismatchReturnsFalse(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newTask("t-1")))

			// Task is pending, expected running: must be a clean false.
			ok, err := s.CompareAndSet(ctx, "t-1", models.StateRunning, models.StateSucceeded, models.Patch{})
			require.NoError(t, err)
			assert.False(t, ok)

			// And the record is untouched.
			got, err := s.Get(ctx, "t-1")
			require.NoError(t, err)
			assert.Equal(t, models.StatePending, got.State)
		})
	}
}

func TestCompareAndSetUnknownTask(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.CompareAndSet(context.Background(), "missing", models.StatePending, models.StateRunning, models.Patch{})
			assert.ErrorIs(t, err, ErrTaskNotFound)
		})
	}
}

// TestCompareAndSetAtMostOnceTerminal fires racing terminal transitions and
// asserts exactly one wins each round.
func TestCompareAndSetAtMostOnceTerminal(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const rounds = 50

			for i := 0; i < rounds; i++ {
				task := newTask(fmt.Sprintf("race-%d", i))
				task.State = models.StateRunning
				require.NoError(t, s.Create(ctx, task))

				finished := time.Now().UTC()
				var wins int32
				var mu sync.Mutex
				var wg sync.WaitGroup

				transitions := []models.TaskState{models.StateSucceeded, models.StateCancelled}
				for _, next := range transitions {
					wg.Add(1)
					go func(next models.TaskState) {
						defer wg.Done()
						ok, err := s.CompareAndSet(ctx, task.ID, models.StateRunning, next, models.Patch{
							FinishedAt: &finished,
							Result:     &models.Result{Success: next == models.StateSucceeded},
						})
						require.NoError(t, err)
						if ok {
							mu.Lock()
							wins++
							mu.Unlock()
						}
					}(next)
				}
				wg.Wait()

				assert.EqualValues(t, 1, wins)

				got, err := s.Get(ctx, task.ID)
				require.NoError(t, err)
				assert.True(t, got.State.IsTerminal())
				assert.NotNil(t, got.Result)
				assert.NotNil(t, got.FinishedAt)
			}
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newTask("t-1")))
			require.NoError(t, s.Delete(ctx, "t-1"))
			assert.NoError(t, s.Delete(ctx, "t-1"))

			_, err := s.Get(ctx, "t-1")
			assert.ErrorIs(t, err, ErrTaskNotFound)
		})
	}
}

func TestListPreservesCreationOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.Create(ctx, newTask(id)))
			}

			tasks, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, tasks, 3)
			assert.Equal(t, "a", tasks[0].ID)
			assert.Equal(t, "b", tasks[1].ID)
			assert.Equal(t, "c", tasks[2].ID)
		})
	}
}

func TestSweepRemovesOnlyOldTerminalTasks(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Old terminal task.
			old := newTask("old")
			require.NoError(t, s.Create(ctx, old))
			oldFinished := time.Now().UTC().Add(-2 * time.Hour)
			ok, err := s.CompareAndSet(ctx, "old", models.StatePending, models.StateFailed, models.Patch{
				FinishedAt: &oldFinished,
				Result:     models.ErrorResult("timeout"),
			})
			require.NoError(t, err)
			require.True(t, ok)

			// Fresh terminal task.
			fresh := newTask("fresh")
			require.NoError(t, s.Create(ctx, fresh))
			now := time.Now().UTC()
			ok, err = s.CompareAndSet(ctx, "fresh", models.StatePending, models.StateSucceeded, models.Patch{
				FinishedAt: &now,
				Result:     &models.Result{Success: true},
			})
			require.NoError(t, err)
			require.True(t, ok)

			// Still running.
			require.NoError(t, s.Create(ctx, newTask("pending")))

			removed, err := s.Sweep(ctx, time.Now().UTC().Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			_, err = s.Get(ctx, "old")
			assert.ErrorIs(t, err, ErrTaskNotFound)
			_, err = s.Get(ctx, "fresh")
			assert.NoError(t, err)
			_, err = s.Get(ctx, "pending")
			assert.NoError(t, err)
		})
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newTask("t-1")))

	got, err := s.Get(ctx, "t-1")
	require.NoError(t, err)
	got.State = models.StateSucceeded // mutate the copy

	again, err := s.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, again.State)
}

func TestUnavailableError(t *testing.T) {
	err := &UnavailableError{Op: "get", Err: assert.AnError}
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "get")
	assert.False(t, IsUnavailable(ErrTaskNotFound))
}
