package kestrel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// PrioritizingJobScheduler fans lifecycle operations and statistics
// across a fixed mapping priority(int) -> *JobScheduler, and routes
// submissions to the correct member (spec.md §4.7/C7). The mapping is
// fixed at construction; Update exists purely as a testing hook and must
// not be called while a lifecycle transition is in progress (spec.md
// §5).
type PrioritizingJobScheduler struct {
	mu         sync.RWMutex
	schedulers map[int]*JobScheduler
}

// NewPrioritizingJobScheduler wraps the given priority -> JobScheduler
// mapping. The map is copied; later mutation of the caller's map has no
// effect.
func NewPrioritizingJobScheduler(schedulers map[int]*JobScheduler) *PrioritizingJobScheduler {
	copied := make(map[int]*JobScheduler, len(schedulers))
	for k, v := range schedulers {
		copied[k] = v
	}
	return &PrioritizingJobScheduler{schedulers: copied}
}

// Update replaces the JobScheduler registered at priority. It is a
// testing hook only; see the type doc.
func (p *PrioritizingJobScheduler) Update(priority int, scheduler *JobScheduler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schedulers[priority] = scheduler
}

// Apply exposes the JobScheduler registered at priority for inspection.
// ok is false if no scheduler is registered there.
func (p *PrioritizingJobScheduler) Apply(priority int) (scheduler *JobScheduler, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	scheduler, ok = p.schedulers[priority]
	return
}

// Put routes job to the JobScheduler registered at priority. It fails
// with a "no such priority" error if none is registered (spec.md §4.7).
func (p *PrioritizingJobScheduler) Put(ctx context.Context, priority int, job Job) error {
	scheduler, ok := p.Apply(priority)
	if !ok {
		return errors.Wrapf(ErrNoSuchPriority, "priority %d", priority)
	}
	return scheduler.Submit(ctx, job)
}

// ErrNoSuchPriority is returned by Put when no JobScheduler is
// registered for the requested priority.
var ErrNoSuchPriority = fmt.Errorf("kestrel: no such priority")

// members returns the registered schedulers in ascending priority order,
// for deterministic fan-out.
func (p *PrioritizingJobScheduler) members() []*JobScheduler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	priorities := make([]int, 0, len(p.schedulers))
	for k := range p.schedulers {
		priorities = append(priorities, k)
	}
	sort.Ints(priorities)
	out := make([]*JobScheduler, 0, len(priorities))
	for _, k := range priorities {
		out = append(out, p.schedulers[k])
	}
	return out
}

// Start fans Start out to every member, sequentially, in ascending
// priority order.
func (p *PrioritizingJobScheduler) Start() {
	for _, s := range p.members() {
		s.Start()
	}
}

// Pause fans Pause out to every member.
func (p *PrioritizingJobScheduler) Pause() {
	for _, s := range p.members() {
		s.Pause()
	}
}

// Resume fans Resume out to every member.
func (p *PrioritizingJobScheduler) Resume() {
	for _, s := range p.members() {
		s.Resume()
	}
}

// Shutdown fans Shutdown out to every member. Fan-out is best-effort: the
// implementation here simply invokes every member regardless of an
// individual member's internal failure, since JobScheduler's lifecycle
// methods do not themselves return an error (spec.md §4.7 permits either
// fail-fast or best-effort; we document best-effort as the behavior
// knob).
func (p *PrioritizingJobScheduler) Shutdown() {
	for _, s := range p.members() {
		s.Shutdown()
	}
}

// RetryErrors fans RetryErrors out to every member concurrently via an
// errgroup.Group, the same parallelism primitive the teacher spans its
// worker goroutines with in dispatcher.go's Consume. Unlike the other
// Lifecycle methods (which transition state and must run in deterministic
// order, spec.md §4.7), draining independent error queues has no ordering
// requirement, so members run concurrently; errgroup.Wait returns the
// first error encountered, after every member has completed.
func (p *PrioritizingJobScheduler) RetryErrors(ctx context.Context) (int, error) {
	members := p.members()
	counts := make([]int, len(members))

	var g errgroup.Group
	for i, s := range members {
		i, s := i, s
		g.Go(func() error {
			n, err := s.RetryErrors(ctx)
			counts[i] = n
			return err
		})
	}
	err := g.Wait()

	var total int
	for _, n := range counts {
		total += n
	}
	return total, err
}

// IsShutdown is the conjunction of every member's IsShutdown (spec.md
// §8). A PrioritizingJobScheduler with no members reports shut down.
func (p *PrioritizingJobScheduler) IsShutdown() bool {
	for _, s := range p.members() {
		if !s.IsShutdown() {
			return false
		}
	}
	return true
}

// Size sums every member's primary-queue size (spec.md §8).
func (p *PrioritizingJobScheduler) Size() int64 {
	var total int64
	for _, s := range p.members() {
		total += s.Size()
	}
	return total
}

// ActiveThreads sums every member's active worker count.
func (p *PrioritizingJobScheduler) ActiveThreads() int64 {
	var total int64
	for _, s := range p.members() {
		total += s.ActiveThreads()
	}
	return total
}
