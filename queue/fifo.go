package queue

import (
	"sync"

	"github.com/dispatchlabs/taskgraph/task"
)

const (
	defaultFIFOCap     = 16
	compactMinCap      = 64 // don't bother compacting below this capacity
	compactShrinkFactor = 4 // compact once len < cap/compactShrinkFactor
)

// AffinityFIFO is a plain FIFO queue for tasks pinned to one worker via
// Task.Affinity. Adapted directly from the teacher's FIFOTaskQueue: same
// zero-out-on-pop (avoid pinning GC'd tasks via a stale slice slot) and
// shrink-when-mostly-empty compaction, generalized from
// "one queue per scheduler" to "one queue per (worker, priority band)".
type AffinityFIFO struct {
	mu    sync.Mutex
	tasks []*task.Task
}

// NewAffinityFIFO returns an empty FIFO ready for use.
func NewAffinityFIFO() *AffinityFIFO {
	return &AffinityFIFO{tasks: make([]*task.Task, 0, defaultFIFOCap)}
}

// Push enqueues t at the back.
func (q *AffinityFIFO) Push(t *task.Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

// Pop removes and returns the front task, or nil if empty.
func (q *AffinityFIFO) Pop() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()
	return t
}

func (q *AffinityFIFO) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]*task.Task, 0, defaultFIFOCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultFIFOCap), n)
	newSlice := make([]*task.Task, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}

// Len reports the current size.
func (q *AffinityFIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
