package kestrel

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// RetryStrobe is a single background task that periodically expires
// delayed entries in an error JobQueue back into a primary JobQueue.
// Grounded on spec.md §4.4 and on the teacher's preference (doc.go,
// dependency.go's ProvideRunGroup) for a dedicated goroutine driven by a
// cancellation signal over a timer callback, since the strobe's own work
// can exceed its interval and must never overlap itself.
type RetryStrobe struct {
	errorQueue JobQueue
	interval   time.Duration
	jitterRate float64
	flushLimit int
	logger     log.Logger

	stop chan struct{}
	done chan struct{}
}

// NewRetryStrobe constructs a strobe that calls
// errorQueue.CheckExpiration(flushLimit) once per interval (plus
// jitter).
func NewRetryStrobe(errorQueue JobQueue, interval time.Duration, jitterRate float64, flushLimit int, logger log.Logger) *RetryStrobe {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RetryStrobe{
		errorQueue: errorQueue,
		interval:   interval,
		jitterRate: jitterRate,
		flushLimit: flushLimit,
		logger:     logger,
	}
}

// Start spawns the strobe's goroutine. It is idempotent: calling Start on
// an already-running strobe is a no-op.
func (s *RetryStrobe) Start(ctx context.Context) {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop signals the strobe goroutine to exit and blocks until it has.
// Stop on a never-started or already-stopped strobe is a no-op.
func (s *RetryStrobe) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}

func (s *RetryStrobe) run(ctx context.Context) {
	defer close(s.done)
	for {
		d := s.nextSleep()
		timer := time.NewTimer(d)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		n, err := s.errorQueue.CheckExpiration(ctx, s.flushLimit)
		if err != nil {
			_ = level.Warn(s.logger).Log("msg", "retry strobe check-expiration failed", "err", err)
			continue
		}
		if n > 0 {
			_ = level.Debug(s.logger).Log("msg", "retry strobe transferred expired entries", "count", n)
		}
	}
}

// nextSleep computes interval + jitter, where jitter is a Gaussian
// sample scaled by jitterRate, clamped to be non-negative (spec.md
// §4.4).
func (s *RetryStrobe) nextSleep() time.Duration {
	if s.jitterRate == 0 {
		return s.interval
	}
	g := rand.NormFloat64()
	jitterMS := float64(s.interval.Milliseconds()) * s.jitterRate * g
	total := s.interval + time.Duration(jitterMS)*time.Millisecond
	if total < 0 {
		return 0
	}
	return total
}
