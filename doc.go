// Package kestrel provides a durable, priority-partitioned job execution
// engine.
//
// It is recommended to read this doc before wiring the engine into a
// larger program.
//
// Introduction
//
// Producers submit opaque Jobs tagged with a priority class. The engine
// persists each Job to a per-priority JobQueue, dispatches it to a
// WorkerPool, tracks per-Job execution failures, reroutes transient
// failures through a delayed error JobQueue, and sinks permanently-failing
// Jobs into a BadJobSink. A Job won't be lost even if the process restarts,
// provided the underlying JobQueue is the durable variant: Jobs are
// retried until success or until they exceed the configured error limit.
//
// Simple Usage
//
// First create a Job. A Job is any type that implements the Execute and
// Describe methods:
//
//	type Job interface {
//		Execute(ctx context.Context) error
//		Describe() string
//	}
//
// Jobs are submitted to a JobScheduler, which couples a primary JobQueue,
// an error JobQueue, a WorkerPool and a RetryStrobe:
//
//	sched := kestrel.NewJobScheduler(primary, errQueue, 30*time.Second, kestrel.UseThreadCount(4))
//	sched.Start()
//	sched.Submit(ctx, myJob)
//
// To run more than one priority class, wrap several JobSchedulers in a
// PrioritizingJobScheduler:
//
//	pjs := kestrel.NewPrioritizingJobScheduler(map[int]*kestrel.JobScheduler{
//		1: highPriority,
//		2: lowPriority,
//	})
//	pjs.Start()
//	pjs.Put(ctx, 1, myJob)
//
// Classified Failures
//
// A Job's Execute method may return one of two classified errors, built
// with Blackhole and Rejected; any other error is treated as an ordinary
// failure, counted against the Job's error limit.
//
// Metrics
//
// Inject a Counters value (NewPrometheusCounters builds a Prometheus-backed
// one; without it the scheduler discards every observation) to gain
// visibility into success/blackhole/rejected/error rates, and a
// metrics.Gauge to track queue depth over time. See UseCounters and
// UseSchedulerGauge.
package kestrel
