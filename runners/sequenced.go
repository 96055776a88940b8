// Package runners is a convenience layer built on top of package facade,
// adapting the teacher's SequencedTaskRunner, SingleThreadTaskRunner,
// ParallelTaskRunner, PostTaskAndReply, and repeatingTaskHandle onto the
// Task dependency protocol (task.Starts/task.NewSet/task.Affinity and
// continuation passing) instead of the teacher's internal per-runner
// FIFO queues. None of these are part of the scheduling core proper
// (spec §1 names only alloc/task/queue/worker/facade); they exist
// because the teacher itself layers exactly this kind of convenience API
// over its scheduler, and a faithful port carries it forward.
package runners

import (
	"context"
	"sync"

	"github.com/dispatchlabs/taskgraph/facade"
	"github.com/dispatchlabs/taskgraph/task"
	"github.com/dispatchlabs/taskgraph/worker"
)

// SequencedRunner runs posted closures strictly in the order they were
// posted, one at a time, never concurrently — grounded on
// SequencedTaskRunner's runLoop/rePostSelf pattern
// (core/sequenced_task_runner.go). Ordering is implemented with
// continuation passing rather than Starts edges: declaring a Starts edge
// on an already-submitted predecessor races against that predecessor
// finishing before the edge is wired (the predecessor's onStart slot
// would then simply never be consulted), so instead one driver task
// drains the pending queue and returns the next closure, already
// wrapped, as its own continuation for as long as the queue is
// non-empty — the same mechanism spec §4.5 documents for depth-first
// locality.
type SequencedRunner struct {
	sched *facade.Scheduler

	mu      sync.Mutex
	pending []queuedItem
	running bool
}

type queuedItem struct {
	fn       func(ctx context.Context)
	priority task.Priority
}

// NewSequencedRunner builds a SequencedRunner that submits its tasks
// through sched.
func NewSequencedRunner(sched *facade.Scheduler) *SequencedRunner {
	return &SequencedRunner{sched: sched}
}

// PostTask appends fn to the sequence. fn runs after every previously
// posted task on this runner has finished, and before any task posted
// after it.
func (r *SequencedRunner) PostTask(fn func(ctx context.Context)) {
	r.PostTaskWithPriority(fn, task.Normal)
}

// PostTaskWithPriority is PostTask with an explicit priority band.
func (r *SequencedRunner) PostTaskWithPriority(fn func(ctx context.Context), priority task.Priority) {
	r.mu.Lock()
	r.pending = append(r.pending, queuedItem{fn: fn, priority: priority})
	start := !r.running
	if start {
		r.running = true
	}
	r.mu.Unlock()

	if start {
		r.submitDriver()
	}
}

// submitDriver submits a fresh driver task that pops and runs exactly
// one pending closure, then either returns the next driver as a
// continuation (queue still non-empty) or marks the runner idle.
func (r *SequencedRunner) submitDriver() {
	t := r.sched.NewTask("", r.runOne, -1)
	t.SetPriority(r.peekPriorityOrNormal())
	r.sched.Submit(t)
}

func (r *SequencedRunner) peekPriorityOrNormal() task.Priority {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return task.Normal
	}
	return r.pending[0].priority
}

func (r *SequencedRunner) runOne(ctx context.Context) *task.Task {
	r.mu.Lock()
	item := r.pending[0]
	r.pending = r.pending[1:]
	r.mu.Unlock()

	item.fn(ctx)

	r.mu.Lock()
	more := len(r.pending) > 0
	if !more {
		r.running = false
	}
	var nextPriority task.Priority
	if more {
		nextPriority = r.pending[0].priority
	}
	r.mu.Unlock()

	if !more {
		return nil
	}
	id, _ := worker.WorkerID(ctx)
	next := r.sched.NewTask("", r.runOne, id)
	next.SetPriority(nextPriority)
	return next
}
