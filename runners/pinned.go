package runners

import (
	"context"

	"github.com/dispatchlabs/taskgraph/facade"
	"github.com/dispatchlabs/taskgraph/task"
)

// PinnedRunner posts every task with Affinity fixed to one worker index —
// recovered from SingleThreadTaskRunner (core/single_thread_task_runner.go),
// whose doc comment names exactly the use cases spec §4 affinity exists
// for: blocking IO, CGo calls needing thread-local state, and
// main/UI-thread simulation. The teacher spins up a dedicated goroutine
// with its own channel to get this guarantee; here it falls out almost
// for free from the scheduler's own affinity FIFOs, so no extra
// goroutine is needed.
type PinnedRunner struct {
	sched  *facade.Scheduler
	worker uint16
}

// NewPinnedRunner builds a PinnedRunner whose tasks always run on worker
// index w. w must be < sched.NumWorkers().
func NewPinnedRunner(sched *facade.Scheduler, w int) *PinnedRunner {
	return &PinnedRunner{sched: sched, worker: uint16(w)}
}

// WorkerIndex returns the worker this runner pins its tasks to.
func (r *PinnedRunner) WorkerIndex() int { return int(r.worker) }

// PostTask submits fn pinned to this runner's worker.
func (r *PinnedRunner) PostTask(fn func(ctx context.Context)) *task.Task {
	t := r.sched.NewTask("", func(ctx context.Context) *task.Task {
		fn(ctx)
		return nil
	}, -1)
	t.SetAffinity(r.worker)
	r.sched.Submit(t)
	return t
}
