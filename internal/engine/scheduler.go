package engine

import (
	"context"
	"fmt"
)

// Scheduler bounds the number of simultaneously running agent subprocesses.
// It is a counting semaphore: blocked acquirers are woken in roughly FIFO
// order (a fairness goal, not a correctness guarantee). Cancelling a queued
// task abandons its acquire without ever consuming a slot.
type Scheduler struct {
	sem   chan struct{}
	limit int
}

// NewScheduler creates a scheduler with the given concurrency limit.
func NewScheduler(limit int) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	return &Scheduler{sem: make(chan struct{}, limit), limit: limit}
}

// Acquire blocks until a slot is free or ctx is done. The caller must call
// Release exactly once after a successful Acquire.
func (s *Scheduler) Acquire(ctx context.Context) error {
	// Don't enter the queue at all with an already-cancelled context.
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.sem <- struct{}{}:
		return nil
	}
}

// Release frees a slot, admitting the next queued acquirer.
func (s *Scheduler) Release() {
	select {
	case <-s.sem:
	default:
		panic(fmt.Sprintf("scheduler: release without acquire (limit %d)", s.limit))
	}
}

// InFlight returns the number of currently held slots.
func (s *Scheduler) InFlight() int {
	return len(s.sem)
}

// Limit returns the configured concurrency limit.
func (s *Scheduler) Limit() int {
	return s.limit
}
