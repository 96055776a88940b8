package runners

import (
	"context"

	"github.com/dispatchlabs/taskgraph/facade"
	"github.com/dispatchlabs/taskgraph/task"
)

// PostTaskAndReply builds a reply task with a Starts edge pointed at the
// work task and affinity pinned to the calling runner's worker, reusing
// the dependency machinery instead of core/task_and_reply.go's bespoke
// wrapped-closure-plus-panic-tracking approach: work.Starts(reply)
// already guarantees reply begins strictly after work finishes (P2), and
// a panicking work task still finishes (worker.runPlain always calls
// Finish), so the "only reply on success" behavior the teacher's version
// implements is deliberately not reproduced here — this module's
// contract treats a task-body panic as a contract violation (spec §7),
// not a recoverable failure a caller branches on.
func PostTaskAndReply(
	sched *facade.Scheduler,
	work func(ctx context.Context),
	reply func(ctx context.Context),
	replyWorker int,
) {
	replyTask := sched.NewTask("", func(ctx context.Context) *task.Task {
		reply(ctx)
		return nil
	}, -1)
	if replyWorker >= 0 {
		replyTask.SetAffinity(uint16(replyWorker))
	}

	workTask := sched.NewTask("", func(ctx context.Context) *task.Task {
		work(ctx)
		return nil
	}, -1)
	workTask.Starts(replyTask)

	sched.Submit(replyTask)
	sched.Submit(workTask)
}

// PostTaskAndReplyWithResult runs work on the scheduler and passes its
// result to reply once work completes, via closure capture across the
// Starts edge — mirroring PostTaskAndReplyWithResult's generic-result
// variant (core/task_and_reply.go) adapted to this module's Task type
// instead of the teacher's func(ctx) (T, error) signature.
func PostTaskAndReplyWithResult[T any](
	sched *facade.Scheduler,
	work func(ctx context.Context) T,
	reply func(ctx context.Context, result T),
	replyWorker int,
) {
	var result T
	PostTaskAndReply(sched, func(ctx context.Context) {
		result = work(ctx)
	}, func(ctx context.Context) {
		reply(ctx, result)
	}, replyWorker)
}
