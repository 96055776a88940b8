package obs

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatchlabs/taskgraph/task"
)

// PanicHandler is called when a task body panics. Recovered where the
// worker loop always recovers — around the Task.Run call, and around a
// TaskSet chunk's RunSetIndex calls —
// mirroring core/interfaces.go's PanicHandler verbatim, generalized from
// "runner name" to "which worker" since there is exactly one scheduling
// loop shape in this module, not one runner type per queue strategy.
type PanicHandler interface {
	HandlePanic(ctx context.Context, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs to stdout.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, workerID int, panicInfo any, stackTrace []byte) {
	fmt.Printf("[worker %d] panic: %v\n%s", workerID, panicInfo, stackTrace)
}

// Metrics collects scheduler/worker observability data. All methods are
// optional to implement meaningfully; NilMetrics is the default. Adapted
// from core/interfaces.go's Metrics, relabeled from "runner name" to
// "priority band" and "worker id" since queue depth is now per (worker,
// band), not per named runner.
type Metrics interface {
	RecordTaskDuration(priority task.Priority, duration time.Duration)
	RecordTaskPanic(panicInfo any)
	RecordQueueDepth(workerID int, priority task.Priority, depth int)
	RecordSteal(victim, thief int, ok bool)
	RecordTaskRejected(reason string)
}

// NilMetrics discards everything.
type NilMetrics struct{}

func (NilMetrics) RecordTaskDuration(task.Priority, time.Duration)      {}
func (NilMetrics) RecordTaskPanic(any)                                 {}
func (NilMetrics) RecordQueueDepth(int, task.Priority, int)            {}
func (NilMetrics) RecordSteal(int, int, bool)                          {}
func (NilMetrics) RecordTaskRejected(string)                           {}

// RejectedTaskHandler is called when Submit is refused (e.g. the
// scheduler has already called End). Mirrors
// core/interfaces.go's RejectedTaskHandler.
type RejectedTaskHandler interface {
	HandleRejectedTask(reason string)
}

// DefaultRejectedTaskHandler logs to stdout.
type DefaultRejectedTaskHandler struct{}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(reason string) {
	fmt.Printf("task rejected: %s\n", reason)
}

// SchedulerConfig configures a facade.Scheduler. All fields are optional;
// DefaultSchedulerConfig fills in no-op/default implementations exactly
// the way the teacher's DefaultTaskSchedulerConfig does.
type SchedulerConfig struct {
	PanicHandler        PanicHandler
	Metrics             Metrics
	RejectedTaskHandler RejectedTaskHandler
	Logger              Logger

	// NumWorkers is the worker goroutine count. 0 means "choose a
	// container-aware default" (see facade.New).
	NumWorkers int

	// StealRetries bounds how many random victims a worker tries before
	// parking, per spec §4.4/§4.5.
	StealRetries int

	// ParkTimeout bounds how long a parked worker waits for EventCount.Notify
	// before re-scanning its queues, guarding against a missed wakeup.
	ParkTimeout time.Duration

	// AllocatorMaxSlabs bounds how many slabs the task allocator's shared
	// pool (facade.Scheduler.NewTask/NewTaskSet) may grow to before Get
	// panics with alloc.AllocatorExhausted. 0 means unbounded.
	AllocatorMaxSlabs int

	// AllocatorReclaimInterval is how often the background reclaim task
	// sweeps idle per-worker task blocks back into the shared pool. 0
	// disables the background sweep entirely -- the allocator still
	// works without it, a worker just keeps whatever it last freed.
	AllocatorReclaimInterval time.Duration

	// AllocatorReclaimKeep is how many idle task blocks each worker is
	// allowed to hold onto between reclaim sweeps.
	AllocatorReclaimKeep int
}

// DefaultSchedulerConfig returns a config with sensible defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PanicHandler:             &DefaultPanicHandler{},
		Metrics:                  &NilMetrics{},
		RejectedTaskHandler:      &DefaultRejectedTaskHandler{},
		Logger:                   NewDefaultLogger(),
		StealRetries:             4,
		ParkTimeout:              50 * time.Millisecond,
		AllocatorReclaimInterval: time.Second,
		AllocatorReclaimKeep:     32,
	}
}
