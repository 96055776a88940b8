// Package facade is the process-wide scheduler control surface: Start,
// End, Enter, Interrupt/InterruptMain, and RunAnyTask (spec §4.6). It
// wires together queue.Registry, a pool of worker.Worker goroutines, and
// the obs.SchedulerConfig every one of them is built from.
//
// It is grounded on the teacher's GoroutineThreadPool
// (Start/Stop/Join/workerLoop shape) plus the global-pool singleton
// helpers (InitGlobalThreadPool/GetGlobalThreadPool/
// ShutdownGlobalThreadPool), generalized to also support Enter/
// InterruptMain for main-thread participation in the scheduling loop —
// a capability the teacher's pool never needed (it never runs worker
// code on the calling goroutine) but that the original tasking system's
// TaskingSystemEnter/InterruptMain calls for.
package facade

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dispatchlabs/taskgraph/alloc"
	"github.com/dispatchlabs/taskgraph/obs"
	"github.com/dispatchlabs/taskgraph/queue"
	"github.com/dispatchlabs/taskgraph/task"
	"github.com/dispatchlabs/taskgraph/worker"
)

// Scheduler owns the Registry, the worker pool, and the task allocator
// every task vended through NewTask/NewTaskSet draws from. The zero
// value is not usable; construct with New.
type Scheduler struct {
	cfg       *obs.SchedulerConfig
	registry  *queue.Registry
	workers   []*worker.Worker
	taskAlloc *alloc.Allocator[task.Task]
	reclaimer *alloc.Reclaimer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	ended   bool

	interrupted     atomic.Bool
	mainInterrupted atomic.Bool
}

// New builds a Scheduler from cfg. If cfg is nil, obs.DefaultSchedulerConfig
// is used. If cfg.NumWorkers is 0, the worker count defaults to a
// container-aware hardware-concurrency-minus-one, matching §4.6's
// "typically hardware concurrency minus one" guidance: automaxprocs.Set
// is invoked first (logged through cfg.Logger) so the GOMAXPROCS the
// default is derived from already reflects any cgroup CPU quota, not the
// host's raw core count.
func New(cfg *obs.SchedulerConfig) *Scheduler {
	if cfg == nil {
		cfg = obs.DefaultSchedulerConfig()
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = defaultWorkerCount(cfg.Logger)
	}

	registry := queue.NewRegistry(cfg.NumWorkers)
	taskAlloc := alloc.New(cfg.NumWorkers, func() *task.Task { return task.New("", nil) }, cfg.AllocatorMaxSlabs)
	s := &Scheduler{
		cfg:       cfg,
		registry:  registry,
		workers:   make([]*worker.Worker, cfg.NumWorkers),
		taskAlloc: taskAlloc,
	}
	if cfg.AllocatorReclaimInterval > 0 {
		s.reclaimer = alloc.NewReclaimer(taskAlloc, cfg.NumWorkers, cfg.AllocatorReclaimInterval, cfg.AllocatorReclaimKeep)
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		s.workers[i] = worker.New(i, registry, cfg)
	}
	return s
}

// NewTask vends a *task.Task from this scheduler's allocator instead of
// a fresh GC-backed allocation, per spec §4.1/§4.6 ("shared by all other
// components" / "initialize allocator caches"): once its refcount (the
// scheduler's own reference plus any Retain calls) drops to zero, the
// task is handed back to worker from's free list instead of left for
// the garbage collector, closing the recycle loop P6 depends on. from
// is the calling worker index for locality, or -1 from outside any
// worker's loop (the same convention as Task.Submit's from parameter).
func (s *Scheduler) NewTask(name string, fn task.Func, from int) *task.Task {
	t := s.taskAlloc.Get(from)
	t.Reset(name, fn, func(done *task.Task) {
		s.taskAlloc.Put(from, done)
	})
	return t
}

// NewTaskSet is NewTask's TaskSet-shaped counterpart (spec §4.3).
func (s *Scheduler) NewTaskSet(name string, n int, body task.SetFunc, from int) *task.Task {
	t := s.taskAlloc.Get(from)
	t.ResetSet(name, n, body, func(done *task.Task) {
		s.taskAlloc.Put(from, done)
	})
	return t
}

func defaultWorkerCount(logger obs.Logger) int {
	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}))
	if err != nil {
		logger.Warn("automaxprocs: failed to adjust GOMAXPROCS", obs.F("error", err))
	} else {
		defer undo()
	}

	n := runtime.GOMAXPROCS(0) - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Registry exposes the ready-queue set this scheduler's workers pull
// from, for callers (notably package runners) that need to Enqueue tasks
// submitted from outside any worker's loop.
func (s *Scheduler) Registry() *queue.Registry { return s.registry }

// NumWorkers returns the worker goroutine count this scheduler was built
// with.
func (s *Scheduler) NumWorkers() int { return len(s.workers) }

// Start spawns the worker goroutines and, if configured, the
// background allocator reclaim sweep (§4.1/§4.6's "initialize allocator
// caches"). Must be called exactly once, before any Task.Submit; calling
// it twice is a no-op on the second call (mirroring
// GoroutineThreadPool.Start's "already running" guard).
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	if s.reclaimer != nil {
		s.reclaimer.Start()
	}

	stop := s.ctx.Done()
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *worker.Worker) {
			defer s.wg.Done()
			w.Run(s.ctx, stop)
		}(w)
	}
	s.cfg.Logger.Info("scheduler started", obs.F("workers", len(s.workers)))
}

// End joins all worker goroutines, stops the allocator reclaim sweep if
// running, and releases this scheduler's hold on the registry. Any tasks
// still queued are discarded, per spec §7 ("Interrupt is not an error:
// workers exit cleanly and pending tasks remain in their queues, to be
// discarded on end()"); any task blocks still held by the per-worker
// free lists or the allocator's shared pool are simply dropped along
// with the Scheduler itself -- there is no separate "release residual
// slabs" step, since the allocator has no OS resources of its own to
// give back.
func (s *Scheduler) End() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if s.reclaimer != nil {
		s.reclaimer.Stop()
	}

	s.mu.Lock()
	s.running = false
	s.ended = true
	s.mu.Unlock()
	s.cfg.Logger.Info("scheduler stopped")
}

// Enter blocks the calling goroutine in a helping loop — repeated
// RunAnyTask calls — until Interrupt or InterruptMain is observed or ctx
// is done, letting the main thread pitch in alongside the background
// worker pool instead of merely waiting idle. This is the recovered
// TaskingSystemEnter/InterruptMain facility from
// original_source/src/sys/tasking.hpp, built on top of §4.5's
// run_any_task rather than a dedicated extra worker slot, since a worker
// requires a QueueSet of its own and the pool's queue sets are already
// claimed by the goroutines Start spawned.
func (s *Scheduler) Enter(ctx context.Context) {
	for {
		if s.interrupted.Load() || s.mainInterrupted.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !s.RunAnyTask(ctx) {
			if !s.registry.Wake().Wait(s.cfg.ParkTimeout, ctx.Done()) {
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// Interrupt sets the global interrupt flag, observed at the next loop
// boundary by any in-progress Enter call, and closes the stop channel of
// every worker Start spawned, so each worker's Run returns once it finds
// no further task (see worker.Worker.Run). Idempotent.
func (s *Scheduler) Interrupt() {
	s.interrupted.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// InterruptMain sets the main-only interrupt flag, observed only by
// Enter (it does not affect the background worker pool started by
// Start). Idempotent.
func (s *Scheduler) InterruptMain() { s.mainInterrupted.Store(true) }

// RunAnyTask runs at most one task from worker 0's view of the queues
// (or, when ctx carries a worker index, that worker's view),
// for use from ordinary (non-worker) goroutines that want to help drain
// the backlog while blocked on external IO — the facade-level entry
// point for spec §4.5's run_any_task, usable outside any worker's own
// loop. Returns true iff something ran.
func (s *Scheduler) RunAnyTask(ctx context.Context) bool {
	if len(s.workers) == 0 {
		return false
	}
	idx := 0
	if id, ok := worker.WorkerID(ctx); ok && id >= 0 && id < len(s.workers) {
		idx = id
	}
	return s.workers[idx].RunAnyTask(ctx)
}

// Submit hands t to this scheduler's registry as though submitted from
// outside any worker's loop (from == -1), the normal entry point for
// user code on the main goroutine. Equivalent to t.Submit(s.Registry(),
// -1); kept as a convenience so callers do not need to import package
// queue just to reach Registry().
//
// A task submitted after End() has already run would otherwise be
// pushed into a registry nothing is draining and simply lost -- one of
// spec §7's startup-ordering violations. Submit refuses it instead,
// routing the refusal through cfg.RejectedTaskHandler and
// cfg.Metrics.RecordTaskRejected, mirroring
// core/task_scheduler.go's rejectedTaskHandler.HandleRejectedTask call
// on shutdown. A Submit issued before Start has ever run is not treated
// as a violation: the registry accepts it and RunAnyTask/a later Start
// can still drain it, a pattern TestRunAnyTaskRunsAQueuedTask relies on
// deliberately.
func (s *Scheduler) Submit(t *task.Task) {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		const reason = "scheduler already ended"
		s.cfg.Metrics.RecordTaskRejected(reason)
		s.cfg.RejectedTaskHandler.HandleRejectedTask(reason)
		return
	}
	t.Submit(s.registry, -1)
}

// =============================================================================
// Global scheduler helper (singleton)
// =============================================================================

var (
	global   *Scheduler
	globalMu sync.Mutex
)

// InitGlobal initializes and starts the global Scheduler. A second call
// is a no-op, mirroring InitGlobalThreadPool.
func InitGlobal(cfg *obs.SchedulerConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return
	}
	global = New(cfg)
	global.Start(context.Background())
}

// GetGlobal returns the global Scheduler. It panics if InitGlobal has
// not been called, mirroring GetGlobalThreadPool.
func GetGlobal() *Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		panic("facade: global scheduler not initialized, call InitGlobal() first")
	}
	return global
}

// ShutdownGlobal ends and clears the global Scheduler, if any.
func ShutdownGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		global.End()
		global = nil
	}
}
