// Package memqueue provides the bounded in-memory JobQueue variant
// (spec.md §3/§4.2): a drop-oldest FIFO that never touches a backing
// store. Grounded on the teacher's in-process driver concept referenced
// in DoNewsCode-core-queue's redis_driver_test.go
// (NewInProcessDriver/NewQueue(queue.NewInProcessDriver())) and on the
// bounded-channel FIFO patterns visible across the pack's worker-pool
// examples (e.g. azargarov-wpool's fifo_queue.go).
package memqueue

import (
	"container/list"
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/kestrelio/kestrel"
	"github.com/pkg/errors"
)

// Queue is the bounded in-memory JobQueue. A Queue with sizeLimit 0 is
// unbounded; otherwise Put on a full queue evicts the head entry to make
// room, matching spec.md §4.2's lossy-FIFO-under-memory-pressure
// requirement.
type Queue struct {
	name      string
	sizeLimit int

	mu       sync.Mutex
	items    *list.List
	reserved map[string]*kestrel.Envelope
	state    kestrel.State

	drainTarget kestrel.JobQueue
	drainDelay  time.Duration

	notify       chan struct{}
	pollInterval time.Duration
}

var _ kestrel.JobQueue = (*Queue)(nil)

// New constructs a named memory queue. sizeLimit of 0 means unbounded.
func New(name string, sizeLimit int) *Queue {
	return &Queue{
		name:         name,
		sizeLimit:    sizeLimit,
		items:        list.New(),
		reserved:     make(map[string]*kestrel.Envelope),
		notify:       make(chan struct{}, 1),
		pollInterval: 50 * time.Millisecond,
	}
}

// Name returns the queue's configured name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Put enqueues env at the tail, evicting the head entry first if the
// queue is full and bounded.
func (q *Queue) Put(_ context.Context, env *kestrel.Envelope) error {
	q.mu.Lock()
	if q.state == kestrel.Shutdown {
		q.mu.Unlock()
		return errors.New("memqueue: put on shut-down queue")
	}
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now()
	}
	if env.ID == "" {
		env.ID = newID()
	}
	if q.sizeLimit > 0 && q.items.Len() >= q.sizeLimit {
		q.items.Remove(q.items.Front())
	}
	q.items.PushBack(env)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Get returns the head Ticket, or ok=false if the queue is empty, paused
// or shut down. It blocks internally up to pollInterval before
// returning ok=false, per spec.md §4.2.
func (q *Queue) Get(ctx context.Context) (*kestrel.Ticket, bool, error) {
	for {
		q.mu.Lock()
		switch q.state {
		case kestrel.Shutdown, kestrel.Paused:
			q.mu.Unlock()
			return nil, false, nil
		}
		if q.items.Len() > 0 {
			el := q.items.Front()
			q.items.Remove(el)
			env := el.Value.(*kestrel.Envelope)
			q.reserved[env.ID] = env
			q.mu.Unlock()
			return kestrel.NewTicket(env.ID, env, env.Job, q), true, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, nil
		case <-q.notify:
			continue
		case <-time.After(q.pollInterval):
			return nil, false, nil
		}
	}
}

// Ack finalizes removal of the reserved entry identified by id.
func (q *Queue) Ack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.reserved[id]; !ok {
		return errors.Errorf("memqueue: unknown ticket %q", id)
	}
	delete(q.reserved, id)
	return nil
}

// Size returns the current pending count.
func (q *Queue) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.items.Len())
}

// Stats returns a fuller snapshot, computing Delayed against the
// registered drain relation if any.
func (q *Queue) Stats() kestrel.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var delayed int64
	if q.drainTarget != nil {
		now := time.Now()
		for el := q.items.Front(); el != nil; el = el.Next() {
			env := el.Value.(*kestrel.Envelope)
			if now.Sub(env.EnqueuedAt) < q.drainDelay {
				delayed++
			}
		}
	}
	return kestrel.QueueStats{Size: int64(q.items.Len()), Delayed: delayed}
}

// Start transitions the queue to Running. Idempotent.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == kestrel.Shutdown {
		return
	}
	q.state = kestrel.Running
}

// Pause stops Get from emitting Tickets.
func (q *Queue) Pause() {
	q.mu.Lock()
	if q.state != kestrel.Shutdown {
		q.state = kestrel.Paused
	}
	q.mu.Unlock()
	q.signal()
}

// Resume restores Get's emission of Tickets.
func (q *Queue) Resume() {
	q.mu.Lock()
	if q.state != kestrel.Shutdown {
		q.state = kestrel.Running
	}
	q.mu.Unlock()
	q.signal()
}

// Shutdown is terminal.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.state = kestrel.Shutdown
	q.mu.Unlock()
	q.signal()
}

// IsShutdown reports whether Shutdown has been called.
func (q *Queue) IsShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == kestrel.Shutdown
}

// DrainTo registers a one-way drain relation onto target.
func (q *Queue) DrainTo(target kestrel.JobQueue, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drainTarget = target
	q.drainDelay = delay
}

// CheckExpiration transfers up to flushLimit expired entries into the
// configured drain target, in FIFO age order, stopping at the first
// entry that is not yet expired (spec.md §4.5).
func (q *Queue) CheckExpiration(ctx context.Context, flushLimit int) (int, error) {
	q.mu.Lock()
	target := q.drainTarget
	delay := q.drainDelay
	if target == nil {
		q.mu.Unlock()
		return 0, nil
	}
	now := time.Now()
	var expired []*kestrel.Envelope
	for el := q.items.Front(); el != nil && len(expired) < flushLimit; {
		env := el.Value.(*kestrel.Envelope)
		if now.Sub(env.EnqueuedAt) < delay {
			break
		}
		next := el.Next()
		q.items.Remove(el)
		expired = append(expired, env)
		el = next
	}
	q.mu.Unlock()

	var transferred int
	for _, env := range expired {
		env.EnqueuedAt = time.Now()
		if err := target.Put(ctx, env); err != nil {
			return transferred, errors.Wrap(err, "memqueue: checkExpiration transfer")
		}
		transferred++
	}
	return transferred, nil
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(errors.Wrap(err, "memqueue: failed to read random bytes for id"))
	}
	return hex.EncodeToString(b[:])
}
