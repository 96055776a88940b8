package runners

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dispatchlabs/taskgraph/worker"
)

func TestPostTaskAndReplyRunsReplyAfterWorkOnPinnedWorker(t *testing.T) {
	sched := newTestScheduler(t, 4)

	workDone := make(chan struct{})
	replyDone := make(chan struct{})
	var replyWorkerID int
	var replyWorkerOK bool

	PostTaskAndReply(sched, func(ctx context.Context) {
		close(workDone)
	}, func(ctx context.Context) {
		replyWorkerID, replyWorkerOK = worker.WorkerID(ctx)
		close(replyDone)
	}, 1)

	select {
	case <-workDone:
	case <-time.After(5 * time.Second):
		t.Fatal("work task never ran")
	}
	select {
	case <-replyDone:
	case <-time.After(5 * time.Second):
		t.Fatal("reply task never ran")
	}

	require.True(t, replyWorkerOK)
	require.Equal(t, 1, replyWorkerID)
}

func TestPostTaskAndReplyWithResultPassesValue(t *testing.T) {
	sched := newTestScheduler(t, 4)

	done := make(chan int, 1)
	PostTaskAndReplyWithResult(sched, func(ctx context.Context) int {
		return 42
	}, func(ctx context.Context, result int) {
		done <- result
	}, -1)

	select {
	case got := <-done:
		require.Equal(t, 42, got)
	case <-time.After(5 * time.Second):
		t.Fatal("reply never received result")
	}
}
