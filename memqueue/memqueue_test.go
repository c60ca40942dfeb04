package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelio/kestrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PutGetAck(t *testing.T) {
	q := New("jobs", 0)
	q.Start()
	ctx := context.Background()

	job := kestrel.JobFunc("noop", func(ctx context.Context) error { return nil })
	require.NoError(t, q.Put(ctx, &kestrel.Envelope{Key: "noop", Job: job}))

	ticket, ok, err := q.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "noop", ticket.Envelope.Key)
	assert.Equal(t, int64(0), q.Size())

	require.NoError(t, ticket.Ack())
	assert.Error(t, ticket.Ack()) // double-ack on an already-removed id
}

func TestQueue_BoundedEvictsOldest(t *testing.T) {
	q := New("bounded", 2)
	q.Start()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Put(ctx, &kestrel.Envelope{
			Key: "job",
			Job: kestrel.JobFunc("job", func(ctx context.Context) error { return nil }),
		}))
	}
	assert.Equal(t, int64(2), q.Size())
}

func TestQueue_GetReturnsFalseWhenPaused(t *testing.T) {
	q := New("paused", 0)
	q.Start()
	q.Pause()
	ctx := context.Background()

	_, ok, err := q.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueue_PutFailsAfterShutdown(t *testing.T) {
	q := New("down", 0)
	q.Start()
	q.Shutdown()

	err := q.Put(context.Background(), &kestrel.Envelope{Key: "job"})
	assert.Error(t, err)
}

func TestQueue_CheckExpirationStopsAtUnexpiredEntry(t *testing.T) {
	q := New("errors", 0)
	target := New("primary", 0)
	q.DrainTo(target, 20*time.Millisecond)
	ctx := context.Background()

	old := &kestrel.Envelope{Key: "old", EnqueuedAt: time.Now().Add(-time.Hour), Job: kestrel.JobFunc("old", nil)}
	fresh := &kestrel.Envelope{Key: "fresh", Job: kestrel.JobFunc("fresh", nil)}
	require.NoError(t, q.Put(ctx, old))
	require.NoError(t, q.Put(ctx, fresh))

	n, err := q.CheckExpiration(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), q.Size())
	assert.Equal(t, int64(1), target.Size())
}

func TestQueue_StatsReportsDelayed(t *testing.T) {
	q := New("errors", 0)
	target := New("primary", 0)
	q.DrainTo(target, time.Hour)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, &kestrel.Envelope{Key: "fresh", Job: kestrel.JobFunc("fresh", nil)}))

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Size)
	assert.Equal(t, int64(1), stats.Delayed)
}
