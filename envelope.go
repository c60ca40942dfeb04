package kestrel

import "time"

// Envelope is the on-wire representation of a Job while it is resident in
// a JobQueue. It plays the role of the teacher's PersistedJob, generalized
// to carry the classification metadata spec.md §3 requires of every Job.
type Envelope struct {
	// ID uniquely identifies this envelope within its owning queue. It is
	// used to address reserved-but-unacked entries, not for exactly-once
	// delivery (see spec.md Non-goals).
	ID string
	// Key is a short label for the Job; JobScheduler.Submit sets it from
	// Job.Describe. It appears in log lines and is not used to decode.
	Key string
	// Payload is a slot for a Codec-encoded Job body. Neither queue
	// variant in this module populates it.
	Payload []byte
	// ErrorCount is the number of "Other" classified failures observed
	// so far. Rejected failures do not increment this.
	ErrorCount int
	// ErrorMessage is the human description of the most recent "Other"
	// failure.
	ErrorMessage string
	// EnqueuedAt records when this envelope entered its current queue.
	// checkExpiration computes age relative to this field.
	EnqueuedAt time.Time
	// Job is the decoded Job ready for execution. The memory variant
	// stores it as is and never encodes anything. The durable variant
	// encodes Job together with the other envelope fields through its
	// Codec on Put and decodes it on Get, which requires the concrete
	// type to have been passed to redisqueue.RegisterJobType.
	Job Job
}

// Age reports how long the envelope has been sitting in its queue as of
// now.
func (e *Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.EnqueuedAt)
}
