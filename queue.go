package kestrel

import (
	"context"
	"time"
)

// QueueStats describes the observable state of a JobQueue, analogous to
// the teacher's QueueInfo but scoped to a single queue rather than a
// whole driver.
type QueueStats struct {
	// Size is the current pending count, possibly approximate for the
	// durable variant under concurrent mutation.
	Size int64
	// Failed is a slot for a count of entries routed to a BadJobSink.
	// Neither memqueue nor redisqueue fills it in, so it is always zero
	// for those variants.
	Failed int64
	// Delayed is the number of entries currently ineligible for
	// CheckExpiration because they have not yet reached their delay.
	Delayed int64
}

// JobQueue is a named FIFO with lifecycle, acknowledgement tickets, size
// introspection and a drain-into relation (spec.md §3/§4.2). Two variants
// are provided by sibling packages: memqueue (bounded, in-process) and
// redisqueue (durable, Redis-backed). Both share this capability set; the
// core only ever depends on this interface, never on a concrete variant.
type JobQueue interface {
	// Name returns the queue's configured name.
	Name() string

	// Put enqueues env at the tail. The memory variant evicts the head
	// entry to make room when full (lossy); the durable variant never
	// drops entries and surfaces backing-store failures as an error.
	Put(ctx context.Context, env *Envelope) error

	// Get returns the next Ticket, or ok=false if the queue is
	// drained, paused or shut down. Implementations may block
	// internally up to a small poll interval before returning
	// ok=false; callers treat that as "nothing right now, retry soon."
	Get(ctx context.Context) (ticket *Ticket, ok bool, err error)

	// Ack finalizes removal of the entry identified by id. Double-ack
	// is a programming error; implementations need not detect it
	// (memqueue reports an unknown id as an error, redisqueue does not).
	Ack(id string) error

	// Size returns the current pending count.
	Size() int64

	// Stats returns a fuller snapshot than Size alone.
	Stats() QueueStats

	Lifecycle

	// DrainTo registers a one-way drain relation: entries at least
	// delay old become eligible for transfer into target via
	// CheckExpiration. The drain relation is a one-way registration;
	// target need not know about this queue (spec.md §9).
	DrainTo(target JobQueue, delay time.Duration)

	// CheckExpiration transfers up to flushLimit expired entries (age
	// >= the delay registered via DrainTo) into the configured target,
	// in FIFO age order. It returns the number actually transferred.
	// Called from JobScheduler's RetryStrobe; JobScheduler.RetryErrors
	// drains through Get/Put/Ack instead.
	CheckExpiration(ctx context.Context, flushLimit int) (int, error)
}
