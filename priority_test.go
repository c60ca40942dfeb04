package kestrel_test

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelio/kestrel"
	"github.com/kestrelio/kestrel/memqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPrioritizedTestSchedulers(t *testing.T) (*kestrel.PrioritizingJobScheduler, map[int]*memqueue.Queue) {
	t.Helper()
	primaries := map[int]*memqueue.Queue{}
	schedulers := map[int]*kestrel.JobScheduler{}
	for _, priority := range []int{1, 2, 3} {
		primary := memqueue.New("p", 0)
		errQ := memqueue.New("e", 0)
		primaries[priority] = primary
		schedulers[priority] = kestrel.NewJobScheduler(primary, errQ, time.Second, kestrel.UseThreadCount(1))
	}
	return kestrel.NewPrioritizingJobScheduler(schedulers), primaries
}

// TestPriority_FanOut covers the sixth scenario of spec.md §8: a job
// submitted at a given priority lands on that priority's queue only.
func TestPriority_FanOut(t *testing.T) {
	p, primaries := newPrioritizedTestSchedulers(t)
	job := kestrel.JobFunc("noop", func(ctx context.Context) error { return nil })

	require.NoError(t, p.Put(context.Background(), 2, job))

	assert.Equal(t, int64(0), primaries[1].Size())
	assert.Equal(t, int64(1), primaries[2].Size())
	assert.Equal(t, int64(0), primaries[3].Size())
}

func TestPriority_UnknownPriority(t *testing.T) {
	p, _ := newPrioritizedTestSchedulers(t)
	job := kestrel.JobFunc("noop", func(ctx context.Context) error { return nil })

	err := p.Put(context.Background(), 99, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, kestrel.ErrNoSuchPriority)
}

func TestPriority_LifecycleFanOut(t *testing.T) {
	p, _ := newPrioritizedTestSchedulers(t)

	p.Start()
	assert.False(t, p.IsShutdown())
	p.Shutdown()
	assert.True(t, p.IsShutdown())
}

func TestPriority_SizeSumsMembers(t *testing.T) {
	p, _ := newPrioritizedTestSchedulers(t)
	ctx := context.Background()
	job := kestrel.JobFunc("noop", func(ctx context.Context) error { return nil })

	require.NoError(t, p.Put(ctx, 1, job))
	require.NoError(t, p.Put(ctx, 2, job))
	require.NoError(t, p.Put(ctx, 3, job))

	assert.Equal(t, int64(3), p.Size())
}

func TestPriority_EmptySetIsShutdown(t *testing.T) {
	p := kestrel.NewPrioritizingJobScheduler(map[int]*kestrel.JobScheduler{})
	assert.True(t, p.IsShutdown())
}
