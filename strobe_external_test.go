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

func TestRetryStrobe_TransfersExpiredEntries(t *testing.T) {
	primary := memqueue.New("primary", 0)
	errQ := memqueue.New("errors", 0)
	errQ.DrainTo(primary, 20*time.Millisecond)

	strobe := kestrel.NewRetryStrobe(errQ, 10*time.Millisecond, 0, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, errQ.Put(ctx, &kestrel.Envelope{
		Key: "stale",
		Job: kestrel.JobFunc("stale", func(ctx context.Context) error { return nil }),
	}))

	strobe.Start(ctx)
	defer strobe.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && primary.Size() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(1), primary.Size())
	assert.Equal(t, int64(0), errQ.Size())
}

func TestRetryStrobe_StartIsIdempotent(t *testing.T) {
	errQ := memqueue.New("errors", 0)
	strobe := kestrel.NewRetryStrobe(errQ, time.Hour, 0, 10, nil)
	ctx := context.Background()

	strobe.Start(ctx)
	strobe.Start(ctx) // must not spawn a second goroutine
	strobe.Stop()
	strobe.Stop() // idempotent
}
