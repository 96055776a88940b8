package queue

import (
	"sync"

	"github.com/dispatchlabs/taskgraph/task"
)

// Deque is a single-owner, multi-thief work-stealing deque: the owning
// worker pushes and pops from the bottom (LIFO, for depth-first locality
// on its own work), while other workers steal from the top (FIFO, so the
// oldest work is taken first and stolen work tends to be the coarsest-
// grained, per spec §4.4). The first implementation is a plain
// mutex-protected slice rather than a lock-free Chase-Lev deque — §4.4
// explicitly allows this as a first cut, and no repo in the retrieval
// pack implements a lock-free ABP/Chase-Lev deque in Go to ground a
// fancier version on.
type Deque struct {
	mu    sync.Mutex
	items []*task.Task
}

// PushBottom adds t to the owner's end of the deque.
func (d *Deque) PushBottom(t *task.Task) {
	d.mu.Lock()
	d.items = append(d.items, t)
	d.mu.Unlock()
}

// PopBottom removes and returns the owner's most recently pushed task, or
// nil if the deque is empty. Only the owning worker should call this.
func (d *Deque) PopBottom() *task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return nil
	}
	t := d.items[n-1]
	d.items[n-1] = nil
	d.items = d.items[:n-1]
	return t
}

// PopTop removes and returns the oldest task in the deque (the thief's
// end), or nil if empty. Safe to call from any worker, including the
// owner.
func (d *Deque) PopTop() *task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return nil
	}
	t := d.items[0]
	d.items[0] = nil
	d.items = d.items[1:]
	return t
}

// Len reports the current size, for steal-victim selection and metrics.
func (d *Deque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
