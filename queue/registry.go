// Package queue implements the per-worker ready-queue set a Registry
// routes Task.Submit/Finish calls into: four priority-banded work-stealing
// deques and four priority-banded affinity FIFOs per worker, plus one
// shared inbox for tasks submitted from outside any worker's loop.
package queue

import (
	"math/rand"

	"github.com/dispatchlabs/taskgraph/task"
)

// QueueSet holds one worker's share of the ready queues: a work-stealing
// deque per priority band for unaffinitized work enqueued by this worker
// (other workers may steal from it), and an affinity FIFO per priority band
// for work explicitly pinned to this worker.
type QueueSet struct {
	Deques    [task.NumPriorities]Deque
	Affinity  [task.NumPriorities]*AffinityFIFO
}

func newQueueSet() *QueueSet {
	qs := &QueueSet{}
	for p := range qs.Affinity {
		qs.Affinity[p] = NewAffinityFIFO()
	}
	return qs
}

// Registry implements task.Scheduler: it owns one QueueSet per worker plus
// a shared inbox, and decides where an Enqueue call lands per spec §4.2 —
//
//   - affinity set, and from == that worker:  -> the worker's own affinity FIFO
//   - affinity set, and from != that worker:   -> cross-push into the target
//     worker's affinity FIFO (the only queue another worker is ever allowed
//     to push into directly; workers only ever *steal* from each other's
//     deques, never push)
//   - no affinity, from a worker (from >= 0):  -> that worker's own deque
//     (depth-first locality: the task runs on that worker unless stolen;
//     note that the finish protocol enqueues a successor it unblocks with
//     from == -1, so such a successor lands in the inbox)
//   - no affinity, from outside any worker (from == -1): -> the shared inbox
type Registry struct {
	sets  []*QueueSet
	inbox AffinityFIFO
	wake  *EventCount
}

// NewRegistry builds a Registry serving numWorkers workers.
func NewRegistry(numWorkers int) *Registry {
	r := &Registry{
		sets: make([]*QueueSet, numWorkers),
		wake: NewEventCount(),
	}
	for i := range r.sets {
		r.sets[i] = newQueueSet()
	}
	return r
}

// NumWorkers returns the worker count this Registry was built for.
func (r *Registry) NumWorkers() int { return len(r.sets) }

// Wake returns the shared park/wake primitive every worker waits on.
func (r *Registry) Wake() *EventCount { return r.wake }

// Set returns the QueueSet owned by worker w.
func (r *Registry) Set(w int) *QueueSet { return r.sets[w] }

// Enqueue implements task.Scheduler.
func (r *Registry) Enqueue(t *task.Task, from int) {
	p := t.Priority()
	if p >= task.NumPriorities {
		p = task.Normal
	}

	if aff := t.Affinity(); aff != task.AffinityAny {
		target := int(aff)
		if target >= 0 && target < len(r.sets) {
			r.sets[target].Affinity[p].Push(t)
			r.wake.Notify()
			return
		}
	}

	if from >= 0 && from < len(r.sets) {
		r.sets[from].Deques[p].PushBottom(t)
	} else {
		r.inbox.Push(t)
	}
	r.wake.Notify()
}

// StealVictim picks a random worker other than exclude to attempt a steal
// from, per §4.4's "random victim with retry" selection. Returns -1 if
// there is only one worker.
func (r *Registry) StealVictim(exclude int) int {
	n := len(r.sets)
	if n <= 1 {
		return -1
	}
	v := rand.Intn(n - 1)
	if v >= exclude {
		v++
	}
	return v
}

// PopInbox removes the next task submitted from outside any worker's
// loop, or nil if empty. Any worker may call this.
func (r *Registry) PopInbox() *task.Task {
	return r.inbox.Pop()
}
