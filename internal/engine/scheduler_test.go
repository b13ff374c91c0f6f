package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerAcquireRelease(t *testing.T) {
	s := NewScheduler(2)
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx))
	require.NoError(t, s.Acquire(ctx))
	assert.Equal(t, 2, s.InFlight())

	s.Release()
	assert.Equal(t, 1, s.InFlight())
	s.Release()
	assert.Equal(t, 0, s.InFlight())
}

func TestSchedulerBlocksAtLimit(t *testing.T) {
	s := NewScheduler(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.InFlight())
}

func TestSchedulerCancelledAcquireConsumesNothing(t *testing.T) {
	s := NewScheduler(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Acquire(ctx), context.Canceled)
	assert.Equal(t, 0, s.InFlight())

	// The slot is still available to an honest acquirer.
	require.NoError(t, s.Acquire(context.Background()))
}

func TestSchedulerMinimumLimit(t *testing.T) {
	s := NewScheduler(0)
	assert.Equal(t, 1, s.Limit())
}

func TestSchedulerReleaseWithoutAcquirePanics(t *testing.T) {
	s := NewScheduler(1)
	assert.Panics(t, func() { s.Release() })
}
