package runners

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dispatchlabs/taskgraph/facade"
	"github.com/dispatchlabs/taskgraph/task"
	"github.com/dispatchlabs/taskgraph/worker"
)

// RepeatingHandle controls the lifecycle of a repeating task, mirroring
// the teacher's RepeatingTaskHandle (types.go/repeatingTaskHandle in
// core/sequenced_task_runner.go).
type RepeatingHandle struct {
	stopped atomic.Bool
}

// Stop prevents the next repetition from being scheduled. A repetition
// already running completes normally.
func (h *RepeatingHandle) Stop() { h.stopped.Store(true) }

// IsStopped reports whether Stop has been called.
func (h *RepeatingHandle) IsStopped() bool { return h.stopped.Load() }

// PostRepeating runs fn every interval until the returned handle is
// stopped — recovered from the teacher's repeatingTaskHandle, but
// implemented as a task whose body returns a fresh clone of itself as
// its continuation while the handle's stopped flag is clear, a direct
// use of continuation passing (spec §4.5/§9) rather than the teacher's
// timer-driven repost loop. Because a returned continuation runs
// immediately on the same worker rather than going back through a
// queue, the interval is honored with a plain sleep inside the body; on
// a worker pool this blocks one worker goroutine for the sleep
// duration, which is the same trade the teacher's delayed-task machinery
// makes by dedicating a goroutine to its delay heap.
func PostRepeating(sched *facade.Scheduler, interval time.Duration, fn func(ctx context.Context)) *RepeatingHandle {
	h := &RepeatingHandle{}
	t := sched.NewTask("", repeatingBody(sched, h, interval, fn), -1)
	sched.Submit(t)
	return h
}

// PostRepeatingWithInitialDelay is PostRepeating but waits initialDelay
// before the first invocation.
func PostRepeatingWithInitialDelay(sched *facade.Scheduler, initialDelay, interval time.Duration, fn func(ctx context.Context)) *RepeatingHandle {
	h := &RepeatingHandle{}
	t := sched.NewTask("", func(ctx context.Context) *task.Task {
		sleep(ctx, initialDelay)
		if h.IsStopped() {
			return nil
		}
		return repeatingBody(sched, h, interval, fn)(ctx)
	}, -1)
	sched.Submit(t)
	return h
}

func repeatingBody(sched *facade.Scheduler, h *RepeatingHandle, interval time.Duration, fn func(ctx context.Context)) task.Func {
	return func(ctx context.Context) *task.Task {
		fn(ctx)
		if h.IsStopped() {
			return nil
		}
		sleep(ctx, interval)
		if h.IsStopped() {
			return nil
		}
		id, _ := worker.WorkerID(ctx)
		return sched.NewTask("", repeatingBody(sched, h, interval, fn), id)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
