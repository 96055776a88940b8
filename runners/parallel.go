package runners

import (
	"context"

	"github.com/dispatchlabs/taskgraph/facade"
	"github.com/dispatchlabs/taskgraph/task"
)

// ParallelRunner is a thin constructor over facade.Scheduler.NewTaskSet —
// recovered from core/parallel_task_runner.go's ParallelTaskRunner, whose
// job is to run N closures. The scheduling loop runs a TaskSet in
// ClaimRange chunks (worker.runSetChunk); the chunks of one set run one
// after another, each possibly on a different worker, not concurrently,
// so no dedicated semaphore-guarded runner is needed.
type ParallelRunner struct {
	sched *facade.Scheduler
}

// NewParallelRunner builds a ParallelRunner submitting through sched.
func NewParallelRunner(sched *facade.Scheduler) *ParallelRunner {
	return &ParallelRunner{sched: sched}
}

// Run submits a TaskSet of n invocations of fn and returns the
// underlying *task.Task handle (e.g. to Retain it and poll
// SetRemaining for progress).
func (r *ParallelRunner) Run(n int, fn func(ctx context.Context, index int)) *task.Task {
	t := r.sched.NewTaskSet("", n, fn, -1)
	r.sched.Submit(t)
	return t
}
