package kestrel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlackholeRoundTrip(t *testing.T) {
	cause := errors.New("target gone")
	wrapped := Blackhole(cause)

	assert.True(t, IsBlackhole(wrapped))
	assert.False(t, IsRejected(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestRejectedRoundTrip(t *testing.T) {
	cause := errors.New("try later")
	wrapped := Rejected(cause)

	assert.True(t, IsRejected(wrapped))
	assert.False(t, IsBlackhole(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestClassificationSurvivesFurtherWrapping(t *testing.T) {
	wrapped := fmt.Errorf("while dialing: %w", Blackhole(errors.New("refused")))
	assert.True(t, IsBlackhole(wrapped))
}

func TestPlainErrorIsNeitherClassification(t *testing.T) {
	err := errors.New("ordinary")
	assert.False(t, IsBlackhole(err))
	assert.False(t, IsRejected(err))
}

func TestJobFunc(t *testing.T) {
	var ran bool
	job := JobFunc("increment", func(ctx context.Context) error {
		ran = true
		return nil
	})

	assert.Equal(t, "increment", job.Describe())
	assert.NoError(t, job.Execute(context.Background()))
	assert.True(t, ran)
}
