package kestrel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	kitmetrics "github.com/go-kit/kit/metrics"
	"github.com/pkg/errors"
)

// JobScheduler couples a primary JobQueue, a delayed error JobQueue, a
// WorkerPool and a RetryStrobe, and owns the error-classification state
// machine of spec.md §4.1/§4.6. It is the direct generalization of the
// teacher's Queue type in dispatcher.go: where the teacher's Queue wraps
// one driver and dispatches to subscribed Handlers, JobScheduler wraps
// two JobQueues (primary/error) plus an optional BadJobSink and routes
// purely on the three-way error classification rather than a handler
// registry, since kestrel Jobs execute themselves.
type JobScheduler struct {
	primaryQueue JobQueue
	errorQueue   JobQueue
	badJobQueue  BadJobSink

	threadCount            int
	strobeInterval         time.Duration
	errorLimit             int
	flushLimit             int
	jitterRate             float64
	strobeRunsWhilePaused  bool
	priorityLabel          string

	logger   log.Logger
	counters Counters
	gauge    kitmetrics.Gauge

	pool   *WorkerPool
	strobe *RetryStrobe

	mu    sync.Mutex
	state State
}

// SchedulerOption configures a JobScheduler at construction, mirroring
// the teacher's UseXxx functional-option idiom in dispatcher.go.
type SchedulerOption func(*JobScheduler)

// UseThreadCount sets the worker pool size. Default 1.
func UseThreadCount(n int) SchedulerOption {
	return func(s *JobScheduler) { s.threadCount = n }
}

// UseStrobeInterval sets the retry strobe's mean period. Default 15s.
func UseStrobeInterval(d time.Duration) SchedulerOption {
	return func(s *JobScheduler) { s.strobeInterval = d }
}

// UseErrorLimit sets the maximum errorCount before a job is bad-sinked.
// Default 1.
func UseErrorLimit(n int) SchedulerOption {
	return func(s *JobScheduler) { s.errorLimit = n }
}

// UseFlushLimit sets the max per-strobe transfer count. Default 100.
func UseFlushLimit(n int) SchedulerOption {
	return func(s *JobScheduler) { s.flushLimit = n }
}

// UseJitterRate sets the strobe's Gaussian jitter standard deviation
// multiplier. Default 0 (no jitter).
func UseJitterRate(rate float64) SchedulerOption {
	return func(s *JobScheduler) { s.jitterRate = rate }
}

// UseBadJobSink sets the terminal consumer for permanently-failing jobs.
// Without one, such jobs are dropped once ErrorCount exceeds errorLimit.
func UseBadJobSink(sink BadJobSink) SchedulerOption {
	return func(s *JobScheduler) { s.badJobQueue = sink }
}

// UseSchedulerLogger sets the logger used for classification and strobe
// log lines. Default a no-op logger.
func UseSchedulerLogger(logger log.Logger) SchedulerOption {
	return func(s *JobScheduler) { s.logger = logger }
}

// UseCounters injects the success/blackhole/rejected/error counters
// (spec.md §9's "global counters" design note). Default discards.
func UseCounters(counters Counters) SchedulerOption {
	return func(s *JobScheduler) { s.counters = counters }
}

// UseSchedulerGauge injects a queue-length gauge, labeled "priority" and
// "channel" ("waiting" for the primary queue, "delayed" for the error
// queue), updated after each job the workers handle.
func UseSchedulerGauge(gauge kitmetrics.Gauge) SchedulerOption {
	return func(s *JobScheduler) { s.gauge = gauge }
}

// UsePriorityLabel sets the label value reported on counters/gauges for
// this scheduler. Set automatically by BuildEngine.
func UsePriorityLabel(label string) SchedulerOption {
	return func(s *JobScheduler) { s.priorityLabel = label }
}

// UseStrobeDuringPause controls spec.md §9's open question: whether the
// retry strobe keeps running while the scheduler is paused. Defaults to
// true (the spec's described behavior: replaying expired errors during
// a quiescent period is desirable).
func UseStrobeDuringPause(enabled bool) SchedulerOption {
	return func(s *JobScheduler) { s.strobeRunsWhilePaused = enabled }
}

// NewJobScheduler composes primaryQueue and errorQueue (the delayed
// retry queue) into a JobScheduler. errorQueue is automatically wired to
// drain into primaryQueue at construction time via DrainTo, using
// errorDelay.
func NewJobScheduler(primaryQueue, errorQueue JobQueue, errorDelay time.Duration, opts ...SchedulerOption) *JobScheduler {
	s := &JobScheduler{
		primaryQueue:          primaryQueue,
		errorQueue:            errorQueue,
		threadCount:           1,
		strobeInterval:        15 * time.Second,
		errorLimit:            1,
		flushLimit:            100,
		strobeRunsWhilePaused: true,
		logger:                log.NewNopLogger(),
		counters:              NewNopCounters(),
		priorityLabel:         "default",
	}
	for _, opt := range opts {
		opt(s)
	}
	errorQueue.DrainTo(primaryQueue, errorDelay)
	s.pool = NewWorkerPool(primaryQueue, s.threadCount, s.handle)
	s.strobe = NewRetryStrobe(errorQueue, s.strobeInterval, s.jitterRate, s.flushLimit, s.logger)
	return s
}

// Submit wraps job in an Envelope and puts it on the primary queue.
func (s *JobScheduler) Submit(ctx context.Context, job Job) error {
	env := &Envelope{
		ID:         newID(),
		Key:        job.Describe(),
		Job:        job,
		EnqueuedAt: time.Now(),
	}
	return s.primaryQueue.Put(ctx, env)
}

// Start transitions Fresh -> Running: starts both queues, spawns
// workers, starts the strobe. A no-op in every other state.
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Fresh {
		// Already running, paused or shut down: start is a no-op.
		// Paused schedulers resume via Resume, not Start.
		return
	}
	s.primaryQueue.Start()
	s.errorQueue.Start()
	ctx := context.Background()
	s.pool.Start(ctx)
	s.strobe.Start(ctx)
	s.state = Running
}

// Pause transitions Running -> Paused: pauses both queues and tears down
// the worker pool. The strobe keeps running unless
// UseStrobeDuringPause(false) was set, per spec.md §4.4/§9.
func (s *JobScheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return
	}
	s.primaryQueue.Pause()
	s.errorQueue.Pause()
	s.pool.Shutdown()
	if !s.strobeRunsWhilePaused {
		s.strobe.Stop()
	}
	s.state = Paused
}

// Resume transitions Paused -> Running: resumes both queues and
// respawns a fresh worker pool of the configured size.
func (s *JobScheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return
	}
	s.primaryQueue.Resume()
	s.errorQueue.Resume()
	s.pool = NewWorkerPool(s.primaryQueue, s.threadCount, s.handle)
	ctx := context.Background()
	s.pool.Start(ctx)
	if !s.strobeRunsWhilePaused {
		s.strobe.Start(ctx)
	}
	s.state = Running
}

// Shutdown transitions Running/Paused -> Shutdown: shuts down both
// queues, tears down the worker pool, stops the strobe. Terminal: any
// further call is a no-op.
func (s *JobScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Shutdown {
		return
	}
	s.pool.Shutdown()
	s.strobe.Stop()
	s.primaryQueue.Shutdown()
	s.errorQueue.Shutdown()
	s.state = Shutdown
}

// IsShutdown mirrors the primary queue's shutdown state, per spec.md
// §4.6, rather than a free-standing flag.
func (s *JobScheduler) IsShutdown() bool {
	return s.primaryQueue.IsShutdown()
}

// ActiveThreads returns the number of workers currently executing a job.
func (s *JobScheduler) ActiveThreads() int64 {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	return pool.ActiveThreads()
}

// Size returns the primary queue's pending count.
func (s *JobScheduler) Size() int64 {
	return s.primaryQueue.Size()
}

// RetryErrors performs an immediate, unconditional drain of the error
// queue into the primary queue, bounded by the error queue's size
// observed at entry (spec.md §4.5), so a live-lock from freshly
// re-errored jobs can't keep the loop running forever.
func (s *JobScheduler) RetryErrors(ctx context.Context) (int, error) {
	bound := s.errorQueue.Size()
	var transferred int
	for int64(transferred) < bound {
		ticket, ok, err := s.errorQueue.Get(ctx)
		if err != nil {
			return transferred, err
		}
		if !ok {
			break
		}
		ticket.Envelope.EnqueuedAt = time.Now()
		if err := s.primaryQueue.Put(ctx, ticket.Envelope); err != nil {
			return transferred, err
		}
		if err := ticket.Ack(); err != nil {
			return transferred, err
		}
		transferred++
	}
	return transferred, nil
}

// handle runs the classification branch of spec.md §4.1 for a single
// Ticket. It is installed as the WorkerPool's work function. Any raised
// error from within classification itself (including from
// errorQueue.Put or badJobQueue.Put) must not terminate the worker; we
// log and continue, guarded by a recover in case a Job's Execute panics,
// matching the defensive pattern seen across the pack's worker pools
// (e.g. azargarov-wpool's runBatch).
func (s *JobScheduler) handle(ctx context.Context, ticket *Ticket) {
	defer func() {
		if r := recover(); r != nil {
			_ = level.Error(s.logger).Log("msg", "job panicked", "key", ticket.Envelope.Key, "panic", fmt.Sprintf("%v", r))
		}
	}()
	defer s.updateGauge()

	err := ticket.Job.Execute(ctx)

	switch {
	case err == nil:
		s.counters.Success.With("priority", s.priorityLabel, "queue", s.primaryQueue.Name()).Add(1)
		s.ack(ticket)

	case IsBlackhole(err):
		s.counters.Blackhole.With("priority", s.priorityLabel, "queue", s.primaryQueue.Name()).Add(1)
		s.ack(ticket)

	case IsRejected(err):
		s.counters.Rejected.With("priority", s.priorityLabel, "queue", s.primaryQueue.Name()).Add(1)
		ticket.Envelope.EnqueuedAt = time.Now()
		if putErr := s.errorQueue.Put(ctx, ticket.Envelope); putErr != nil {
			_ = level.Warn(s.logger).Log("msg", "failed to re-enqueue rejected job", "key", ticket.Envelope.Key, "err", putErr)
			return
		}
		s.ack(ticket)

	default:
		s.counters.Error.With("priority", s.priorityLabel, "queue", s.primaryQueue.Name()).Add(1)
		env := ticket.Envelope
		env.ErrorCount++
		env.ErrorMessage = err.Error()
		if ec, ok := ticket.Job.(ErrorCounter); ok {
			ec.SetErrorCount(env.ErrorCount)
			ec.SetErrorMessage(env.ErrorMessage)
		}

		if env.ErrorCount > s.errorLimit {
			_ = level.Warn(s.logger).Log("msg", "job exceeded error limit", "key", env.Key, "err", err)
			if s.badJobQueue != nil {
				if sinkErr := s.badJobQueue.Put(ctx, env); sinkErr != nil {
					_ = level.Warn(s.logger).Log("msg", "bad job sink failed", "key", env.Key, "err", sinkErr)
				}
			}
			// The job is terminal either way (bad-sinked or dropped); the
			// ticket must not be left unacked just because the sink failed.
			s.ack(ticket)
		} else {
			_ = level.Info(s.logger).Log("msg", "job failed, re-queued", "key", env.Key, "errorCount", env.ErrorCount, "err", err)
			env.EnqueuedAt = time.Now()
			if putErr := s.errorQueue.Put(ctx, env); putErr != nil {
				_ = level.Warn(s.logger).Log("msg", "failed to re-enqueue failed job", "key", env.Key, "err", putErr)
				return
			}
			s.ack(ticket)
		}
	}
}

// ack acks the ticket after the classification branch has run, so
// re-enqueue to the error/bad-sink is durable before the primary-queue
// entry is released (spec.md §4.1's at-least-once property).
func (s *JobScheduler) ack(ticket *Ticket) {
	if err := ticket.Ack(); err != nil {
		_ = level.Warn(s.logger).Log("msg", "ack failed", "key", ticket.Envelope.Key, "err", err)
	}
}

// updateGauge reports current queue depths. Deferred from handle so it
// runs on every exit path, including the early returns taken when a
// re-enqueue fails.
func (s *JobScheduler) updateGauge() {
	if s.gauge == nil {
		return
	}
	s.gauge.With("priority", s.priorityLabel, "channel", "waiting").Set(float64(s.primaryQueue.Size()))
	s.gauge.With("priority", s.priorityLabel, "channel", "delayed").Set(float64(s.errorQueue.Size()))
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(errors.Wrap(err, "kestrel: failed to read random bytes for id"))
	}
	return hex.EncodeToString(b[:])
}
