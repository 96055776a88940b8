package facade

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dispatchlabs/taskgraph/obs"
	"github.com/dispatchlabs/taskgraph/task"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	cfg := obs.DefaultSchedulerConfig()
	cfg.NumWorkers = workers
	cfg.Logger = obs.NewNoOpLogger()
	s := New(cfg)
	s.Start(context.Background())
	t.Cleanup(s.End)
	return s
}

func TestStartIsIdempotent(t *testing.T) {
	s := newTestScheduler(t, 2)
	s.Start(context.Background()) // second call must be a no-op, not a second set of goroutines
}

func TestSubmitRunsTaskOnAWorker(t *testing.T) {
	s := newTestScheduler(t, 2)

	done := make(chan struct{})
	tk := task.New("t", func(ctx context.Context) *task.Task {
		close(done)
		return nil
	})
	s.Submit(tk)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestRunAnyTaskRunsAQueuedTask(t *testing.T) {
	cfg := obs.DefaultSchedulerConfig()
	cfg.NumWorkers = 1
	cfg.Logger = obs.NewNoOpLogger()
	s := New(cfg) // not Started: nothing is draining the queues on its own

	ran := make(chan struct{})
	tk := task.New("t", func(ctx context.Context) *task.Task {
		close(ran)
		return nil
	})
	s.Submit(tk)

	require.True(t, s.RunAnyTask(context.Background()))
	select {
	case <-ran:
	default:
		t.Fatal("RunAnyTask returned true but the task body never ran")
	}
}

func TestInterruptAndInterruptMainAreIdempotent(t *testing.T) {
	s := newTestScheduler(t, 1)
	s.Interrupt()
	s.Interrupt()
	s.InterruptMain()
	s.InterruptMain()
}

func TestEnterReturnsWhenInterrupted(t *testing.T) {
	s := newTestScheduler(t, 1)

	done := make(chan struct{})
	go func() {
		s.Enter(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Interrupt()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enter never returned after Interrupt")
	}
}

type countingRejectedHandler struct {
	mu      sync.Mutex
	reasons []string
}

func (h *countingRejectedHandler) HandleRejectedTask(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *countingRejectedHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reasons)
}

func TestSubmitAfterEndIsRejectedNotSilentlyLost(t *testing.T) {
	cfg := obs.DefaultSchedulerConfig()
	cfg.NumWorkers = 1
	cfg.Logger = obs.NewNoOpLogger()
	handler := &countingRejectedHandler{}
	cfg.RejectedTaskHandler = handler
	s := New(cfg)
	s.Start(context.Background())
	s.End()

	var ran atomic.Bool
	tk := task.New("t", func(ctx context.Context) *task.Task {
		ran.Store(true)
		return nil
	})
	s.Submit(tk)

	time.Sleep(20 * time.Millisecond)
	require.False(t, ran.Load(), "a task submitted after End must never run")
	require.Equal(t, 1, handler.count())
}

func TestSubmitBeforeStartIsNotRejected(t *testing.T) {
	cfg := obs.DefaultSchedulerConfig()
	cfg.NumWorkers = 1
	cfg.Logger = obs.NewNoOpLogger()
	handler := &countingRejectedHandler{}
	cfg.RejectedTaskHandler = handler
	s := New(cfg) // deliberately not Started yet

	tk := task.New("t", func(ctx context.Context) *task.Task { return nil })
	s.Submit(tk)

	require.Equal(t, 0, handler.count())
}

func TestNewTaskIsReturnedToTheAllocatorOnceItFinishes(t *testing.T) {
	s := newTestScheduler(t, 1)

	done := make(chan struct{})
	tk := s.NewTask("t", func(ctx context.Context) *task.Task {
		close(done)
		return nil
	}, -1)
	s.Submit(tk)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}

	require.Eventually(t, func() bool {
		return tk.RefCount() == 0
	}, time.Second, time.Millisecond, "task should be released back to the allocator once it finishes")
}

func TestGlobalSchedulerLifecycle(t *testing.T) {
	defer ShutdownGlobal()
	cfg := obs.DefaultSchedulerConfig()
	cfg.NumWorkers = 1
	cfg.Logger = obs.NewNoOpLogger()

	InitGlobal(cfg)
	InitGlobal(cfg) // second call is a no-op

	require.NotPanics(t, func() {
		GetGlobal()
	})

	ShutdownGlobal()
	require.Panics(t, func() {
		GetGlobal()
	})
}
