package kestrel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryStrobe_NextSleepWithoutJitter(t *testing.T) {
	strobe := NewRetryStrobe(nil, 5*time.Second, 0, 10, nil)
	assert.Equal(t, 5*time.Second, strobe.nextSleep())
}

func TestRetryStrobe_NextSleepClampsNonNegative(t *testing.T) {
	strobe := NewRetryStrobe(nil, time.Millisecond, 50, 10, nil)
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, strobe.nextSleep(), time.Duration(0))
	}
}
