package store

import (
	"context"
	"sync"
	"time"

	"github.com/harrison/agentd/internal/models"
)

// MemoryStore keeps task records in an in-process map protected by a mutex.
// Records are stored in a map for O(1) lookup plus a slice preserving
// insertion order for stable listing. State is ephemeral: it lives only for
// the duration of the process.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	order []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

// Create registers a new task record.
func (s *MemoryStore) Create(ctx context.Context, task *models.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return ErrDuplicateTask
	}
	s.tasks[task.ID] = task.Clone()
	s.order = append(s.order, task.ID)
	return nil
}

// Get returns a copy of the task record.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// CompareAndSet atomically transitions the task if its current state matches.
func (s *MemoryStore) CompareAndSet(ctx context.Context, id string, expected, next models.TaskState, patch models.Patch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false, ErrTaskNotFound
	}
	if task.State != expected {
		return false, nil
	}
	applyPatch(task, next, patch)
	return true, nil
}

// Delete removes the task record. Unknown ids are ignored.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return nil
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns copies of all records in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out, nil
}

// Sweep deletes terminal tasks that finished before cutoff.
func (s *MemoryStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		task := s.tasks[id]
		if task.State.IsTerminal() && task.FinishedAt != nil && task.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
