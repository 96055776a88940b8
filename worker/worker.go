// Package worker implements the per-goroutine scheduling loop: pick a
// task from this worker's own queues, else try to steal one, else park;
// run it with continuation-passing and panic recovery; repeat. It also
// implements RunAnyTask, the re-entrant "helping" entry point used to
// overlap blocking IO with useful work (spec §4.5).
package worker

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/dispatchlabs/taskgraph/obs"
	"github.com/dispatchlabs/taskgraph/queue"
	"github.com/dispatchlabs/taskgraph/task"
)

// workerIDKeyType is the context key a task body can use to discover
// which worker it is running on, mirroring the teacher's
// taskRunnerKey/GetCurrentTaskRunner pattern (core/task.go) generalized
// from "which runner" to "which worker" — this is what makes spec §8's
// P4 ("every invocation of a body with affinity k occurs on worker k")
// observable from inside a task body at all.
type workerIDKeyType struct{}

var workerIDKey workerIDKeyType

// WorkerID returns the index of the worker running the task body ctx
// belongs to, or (-1, false) if ctx was not derived from a worker's
// scheduling loop or from RunAnyTask. A task run through RunAnyTask from
// an ordinary goroutine (including the facade.Scheduler.Enter helping
// loop) sees the index of the worker whose queues RunAnyTask drew from.
func WorkerID(ctx context.Context) (int, bool) {
	v := ctx.Value(workerIDKey)
	if v == nil {
		return -1, false
	}
	return v.(int), true
}

// Worker owns one QueueSet and runs the scheduling loop described in
// spec §4.4/§4.5. It is grounded on the teacher's workerLoop
// (GetWork/OnTaskStart/OnTaskEnd/panic-recover-via-PanicHandler), adapted
// from a single shared queue to this worker's own QueueSet plus stealing,
// and with a continuation bypass the teacher's loop has no concept of.
type Worker struct {
	ID       int
	registry *queue.Registry
	set      *queue.QueueSet
	cfg      *obs.SchedulerConfig
}

// New builds a Worker for registry's queue set w.
func New(w int, registry *queue.Registry, cfg *obs.SchedulerConfig) *Worker {
	return &Worker{ID: w, registry: registry, set: registry.Set(w), cfg: cfg}
}

// Run is the main scheduling loop. It returns when stop is closed and
// neither this worker's own queues nor a steal attempt yields a task
// (stealing continues after stop is closed, so a stopping worker drains
// whatever it can still reach before exiting, matching the teacher's
// Stop-drains-then-exit shape).
func (w *Worker) Run(ctx context.Context, stop <-chan struct{}) {
	ctx = context.WithValue(ctx, workerIDKey, w.ID)
	for {
		t := w.pickLocal()
		if t == nil {
			t = w.steal()
		}
		if t == nil {
			select {
			case <-stop:
				return
			default:
			}
			if w.registry.Wake().Wait(w.cfg.ParkTimeout, stop) {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			continue
		}
		w.runWithContinuations(ctx, t)
	}
}

// pickLocal selects the next task from this worker's own queues, scanning
// priority bands from CRITICAL down to LOW and, within a band, preferring
// its own affinity FIFO over its own work-stealing deque; the shared
// inbox is the last local resort before stealing.
func (w *Worker) pickLocal() *task.Task {
	for p := task.Priority(0); p < task.NumPriorities; p++ {
		if t := w.set.Affinity[p].Pop(); t != nil {
			return t
		}
		if t := w.set.Deques[p].PopBottom(); t != nil {
			return t
		}
	}
	if t := w.registry.PopInbox(); t != nil {
		return t
	}
	return nil
}

// steal tries StealRetries random victims' deques (never their affinity
// FIFOs — affinity is a hard pin, per spec §4.4). Returns nil if nothing
// was found.
func (w *Worker) steal() *task.Task {
	retries := w.cfg.StealRetries
	if retries <= 0 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		v := w.registry.StealVictim(w.ID)
		if v < 0 {
			return nil
		}
		victim := w.registry.Set(v)
		for p := task.Priority(0); p < task.NumPriorities; p++ {
			if t := victim.Deques[p].PopTop(); t != nil {
				w.cfg.Metrics.RecordSteal(v, w.ID, true)
				return t
			}
		}
	}
	w.cfg.Metrics.RecordSteal(-1, w.ID, false)
	return nil
}

// runWithContinuations runs t, and if its body returns a continuation
// task, runs that one immediately in place of going back through the
// queues — depth-first locality per spec §4.5 — repeating for as long as
// continuations keep coming back.
func (w *Worker) runWithContinuations(ctx context.Context, t *task.Task) {
	for t != nil {
		next := w.runOne(ctx, t)
		t = next
	}
}

// taskSetChunk bounds how many indices of a TaskSet a worker claims and
// runs in one go before re-offering the rest of the set for stealing.
// The rest is re-offered (on this worker's own deque) only after the
// claimed chunk has run, so the chunks of one set run one after another,
// never concurrently; another worker runs a later chunk only if it
// steals the set in the gap between two chunks, before the owner pops it
// back.
const taskSetChunk = 32

// runOne executes a single task (plain task or one chunk of a TaskSet)
// and returns whatever continuation it produced, or nil. Panics are
// recovered and routed to the configured PanicHandler; a panicking task
// is still considered finished so dependents are not wedged by a crashed
// predecessor.
func (w *Worker) runOne(ctx context.Context, t *task.Task) *task.Task {
	if t.IsSet() {
		w.runSetChunk(ctx, t)
		return nil
	}
	return w.runPlain(ctx, t)
}

func (w *Worker) runPlain(ctx context.Context, t *task.Task) (cont *task.Task) {
	start := time.Now()
	defer func() {
		w.cfg.Metrics.RecordTaskDuration(t.Priority(), time.Since(start))
		if r := recover(); r != nil {
			w.cfg.Metrics.RecordTaskPanic(r)
			w.cfg.PanicHandler.HandlePanic(ctx, w.ID, r, debug.Stack())
			cont = nil
		}
		t.Finish()
	}()
	return t.Run(ctx)
}

// runSetChunk claims and runs up to taskSetChunk indices of a TaskSet. If
// indices remain unclaimed afterward, it re-enqueues t so another worker
// (or this one, later) can claim the rest — the set itself is never
// "finished" by one worker alone unless it happened to claim every index.
func (w *Worker) runSetChunk(ctx context.Context, t *task.Task) {
	start, end, ok := t.ClaimRange(taskSetChunk)
	if !ok {
		return // nothing left to claim; some other worker has it
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.cfg.Metrics.RecordTaskPanic(r)
				w.cfg.PanicHandler.HandlePanic(ctx, w.ID, r, debug.Stack())
			}
		}()
		for i := start; i < end; i++ {
			t.RunSetIndex(ctx, i)
		}
	}()

	t.CompleteSetIndices(end - start)

	if t.SetRemaining() > 0 {
		w.registry.Enqueue(t, w.ID)
	}
}

// RunAnyTask runs at most one task drawn from anywhere this worker can
// see (its own queues, then a steal attempt), to let a caller blocked on
// IO overlap useful work instead of idling — spec §4.5's "overcome
// typical issues... overlap some IO". It is re-entrant: calling it from
// inside a running task's body is safe. Unlike the main loop, a
// continuation produced by the helped task is pushed back onto this
// worker's own deque rather than run inline, so RunAnyTask never recurses
// into an unbounded chain on behalf of its caller. Returns true if a task
// was actually run.
func (w *Worker) RunAnyTask(ctx context.Context) bool {
	if _, ok := WorkerID(ctx); !ok {
		ctx = context.WithValue(ctx, workerIDKey, w.ID)
	}
	t := w.pickLocal()
	if t == nil {
		t = w.steal()
	}
	if t == nil {
		return false
	}
	cont := w.runOne(ctx, t)
	if cont != nil {
		p := cont.Priority()
		if p >= task.NumPriorities {
			p = task.Normal
		}
		w.set.Deques[p].PushBottom(cont)
		w.registry.Wake().Notify()
	}
	return true
}
