package kestrel_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrelio/kestrel"
	"github.com/kestrelio/kestrel/memqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func newTestScheduler(opts ...kestrel.SchedulerOption) (*kestrel.JobScheduler, *memqueue.Queue, *memqueue.Queue) {
	primary := memqueue.New("primary", 0)
	errQ := memqueue.New("errors", 0)
	s := kestrel.NewJobScheduler(primary, errQ, 20*time.Millisecond, append([]kestrel.SchedulerOption{
		kestrel.UseThreadCount(2),
		kestrel.UseFlushLimit(10),
	}, opts...)...)
	return s, primary, errQ
}

// TestScheduler_HappyPath covers spec.md §8's first scenario: a job that
// succeeds is acked and never touches the error queue.
func TestScheduler_HappyPath(t *testing.T) {
	s, _, errQ := newTestScheduler()
	s.Start()
	defer s.Shutdown()

	done := make(chan struct{})
	job := kestrel.JobFunc("happy", func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, s.Submit(context.Background(), job))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	waitFor(t, time.Second, func() bool { return s.Size() == 0 })
	assert.Equal(t, int64(0), errQ.Size())
}

// TestScheduler_TransientRejection covers the second scenario: a rejected
// job is re-queued without incrementing errorCount, and eventually
// succeeds once the strobe drains it back to the primary queue.
func TestScheduler_TransientRejection(t *testing.T) {
	s, _, _ := newTestScheduler(kestrel.UseThreadCount(1), kestrel.UseStrobeInterval(10*time.Millisecond))
	s.Start()
	defer s.Shutdown()

	var attempts int32
	done := make(chan struct{})
	job := kestrel.JobFunc("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return kestrel.Rejected(errors.New("not ready"))
		}
		close(done)
		return nil
	})
	require.NoError(t, s.Submit(context.Background(), job))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded after rejection")
	}
}

// TestScheduler_PermanentFailure covers the third scenario: a job that
// keeps failing with an ordinary error is bad-sinked once errorCount
// exceeds errorLimit, never returning to the primary queue again.
func TestScheduler_PermanentFailure(t *testing.T) {
	sink := &captureSink{}
	s, primary, errQ := newTestScheduler(
		kestrel.UseErrorLimit(1),
		kestrel.UseBadJobSink(sink),
		kestrel.UseStrobeInterval(10*time.Millisecond),
	)
	s.Start()
	defer s.Shutdown()

	job := kestrel.JobFunc("doomed", func(ctx context.Context) error {
		return errors.New("persistent failure")
	})
	require.NoError(t, s.Submit(context.Background(), job))

	waitFor(t, 2*time.Second, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.envelopes) > 0
	})

	// The job must never reappear in either queue once bad-sinked.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), primary.Size())
	assert.Equal(t, int64(0), errQ.Size())
}

// TestScheduler_Blackhole covers the fourth scenario: a blackholed job is
// acked and dropped, never reaching the error queue or the bad-job sink.
func TestScheduler_Blackhole(t *testing.T) {
	sink := &captureSink{}
	s, _, errQ := newTestScheduler(kestrel.UseBadJobSink(sink))
	s.Start()
	defer s.Shutdown()

	done := make(chan struct{})
	job := kestrel.JobFunc("unreachable", func(ctx context.Context) error {
		defer close(done)
		return kestrel.Blackhole(errors.New("no such host"))
	})
	require.NoError(t, s.Submit(context.Background(), job))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
	waitFor(t, time.Second, func() bool { return s.Size() == 0 })
	assert.Equal(t, int64(0), errQ.Size())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.envelopes)
}

// TestScheduler_StrobePeriodicity covers the fifth scenario: entries sit
// in the error queue until they age past errorDelay, at which point the
// strobe (not RetryErrors) transfers them back to the primary queue on
// its own schedule.
func TestScheduler_StrobePeriodicity(t *testing.T) {
	s, primary, errQ := newTestScheduler(
		kestrel.UseErrorLimit(5),
		kestrel.UseStrobeInterval(20*time.Millisecond),
	)
	errorDelay := 60 * time.Millisecond
	errQ.DrainTo(primary, errorDelay)
	s.Start()
	defer s.Shutdown()

	env := &kestrel.Envelope{Key: "stale", Job: kestrel.JobFunc("stale", func(ctx context.Context) error { return nil })}
	require.NoError(t, errQ.Put(context.Background(), env))

	// Immediately after insertion the entry is not yet eligible.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(1), errQ.Size())

	waitFor(t, 2*time.Second, func() bool { return errQ.Size() == 0 })
}

// TestScheduler_RetryErrorsIsBounded exercises the manual drain path,
// bounded by the error queue's size observed at entry so freshly
// re-errored jobs can't keep it spinning.
func TestScheduler_RetryErrorsIsBounded(t *testing.T) {
	s, _, errQ := newTestScheduler(kestrel.UseErrorLimit(100))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, errQ.Put(ctx, &kestrel.Envelope{
			Key: "pending",
			Job: kestrel.JobFunc("pending", func(ctx context.Context) error { return nil }),
		}))
	}

	n, err := s.RetryErrors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// TestScheduler_LifecycleTransitions exercises the Fresh/Running/Paused/
// Shutdown table of spec.md §5.
func TestScheduler_LifecycleTransitions(t *testing.T) {
	s, _, _ := newTestScheduler()
	assert.False(t, s.IsShutdown())

	s.Pause() // no-op from Fresh
	s.Resume()

	s.Start()
	s.Start() // idempotent
	s.Pause()
	s.Resume()
	s.Shutdown()
	s.Shutdown() // idempotent

	assert.True(t, s.IsShutdown())
	s.Start() // no-op once shut down
	assert.True(t, s.IsShutdown())
}

type captureSink struct {
	mu        sync.Mutex
	envelopes []*kestrel.Envelope
}

func (s *captureSink) Put(_ context.Context, env *kestrel.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}
