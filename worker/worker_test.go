package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dispatchlabs/taskgraph/obs"
	"github.com/dispatchlabs/taskgraph/queue"
	"github.com/dispatchlabs/taskgraph/task"
)

func newTestPool(t *testing.T, n int) (*queue.Registry, func()) {
	t.Helper()
	cfg := obs.DefaultSchedulerConfig()
	cfg.Logger = obs.NewNoOpLogger()
	cfg.ParkTimeout = 10 * time.Millisecond
	registry := queue.NewRegistry(n)

	ctx, cancel := context.WithCancel(context.Background())
	stop := ctx.Done()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		w := New(i, registry, cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx, stop)
		}()
	}
	return registry, func() {
		cancel()
		wg.Wait()
	}
}

func TestRunExecutesSubmittedPlainTask(t *testing.T) {
	registry, stop := newTestPool(t, 2)
	defer stop()

	done := make(chan struct{})
	tk := task.New("t", func(ctx context.Context) *task.Task {
		close(done)
		return nil
	})
	tk.Submit(registry, -1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestAffinitizedTaskAlwaysRunsOnPinnedWorker(t *testing.T) {
	registry, stop := newTestPool(t, 4)
	defer stop()

	var wg sync.WaitGroup
	var mismatches atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		tk := task.New("", func(ctx context.Context) *task.Task {
			defer wg.Done()
			if id, ok := WorkerID(ctx); !ok || id != 3 {
				mismatches.Add(1)
			}
			return nil
		})
		tk.SetAffinity(3)
		tk.Submit(registry, -1)
	}

	waitOrTimeout(t, &wg, 5*time.Second)
	require.Equal(t, int32(0), mismatches.Load())
}

func TestTaskSetInvokesEveryIndexExactlyOnceAcrossWorkers(t *testing.T) {
	registry, stop := newTestPool(t, 4)
	defer stop()

	const n = 2000
	var mu sync.Mutex
	counts := make([]int, n)
	done := make(chan struct{})

	ts := task.NewSet("set", n, func(ctx context.Context, index int) {
		mu.Lock()
		counts[index]++
		mu.Unlock()
	})
	sentinel := makeSentinel(done)
	ts.Starts(sentinel)
	sentinel.Submit(registry, -1)
	ts.Submit(registry, -1)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("task set never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, c := range counts {
		require.Equal(t, 1, c, "index %d ran %d times", i, c)
	}
}

func makeSentinel(done chan struct{}) *task.Task {
	return task.New("sentinel", func(ctx context.Context) *task.Task {
		close(done)
		return nil
	})
}

func TestContinuationRunsImmediatelyWithoutGoingThroughQueue(t *testing.T) {
	registry, stop := newTestPool(t, 1)
	defer stop()

	var order []string
	var mu sync.Mutex
	done := make(chan struct{})

	second := task.New("second", func(ctx context.Context) *task.Task {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		close(done)
		return nil
	})
	first := task.New("first", func(ctx context.Context) *task.Task {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return second
	})
	first.Submit(registry, -1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("continuation never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for tasks to complete")
	}
}
