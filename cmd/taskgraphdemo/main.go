// Command taskgraphdemo runs the concrete DAG scenarios described in the
// package documentation on demand, one urfave/cli subcommand per
// scenario — grounded on the teacher's examples/*/main.go style (one
// scenario, one main.go) collapsed into a single binary with a CLI
// wired per the pack's urfave/cli/v2 attestation, rather than one binary
// per example as the teacher does it.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dispatchlabs/taskgraph/facade"
	"github.com/dispatchlabs/taskgraph/obs"
	"github.com/dispatchlabs/taskgraph/runners"
	"github.com/dispatchlabs/taskgraph/task"
	"github.com/dispatchlabs/taskgraph/worker"
)

func main() {
	app := &cli.App{
		Name:  "taskgraphdemo",
		Usage: "run taskgraph scheduler scenarios",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "workers", Value: 4, Usage: "worker goroutine count"},
		},
		Commands: []*cli.Command{
			{Name: "linear-chain", Usage: "A -> B -> C via Starts edges", Action: runScenario(linearChain)},
			{Name: "fan-out", Usage: "one root dynamically spawns N children", Action: runScenario(fanOut)},
			{Name: "fan-in", Usage: "N leaves each Starts a shared sink", Action: runScenario(fanIn)},
			{Name: "continuation", Usage: "a task returns its successor as a continuation", Action: runScenario(continuation)},
			{Name: "task-set", Usage: "a 1000-index TaskSet run in chunks", Action: runScenario(taskSet)},
			{Name: "affinity", Usage: "a task pinned to one worker", Action: runScenario(affinity)},
			{Name: "extend-with", Usage: "a running task waits on a dynamically spawned child", Action: runScenario(extendWith)},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runScenario(scenario func(ctx *cli.Context, sched *facade.Scheduler)) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		cfg := obs.DefaultSchedulerConfig()
		cfg.NumWorkers = ctx.Int("workers")
		sched := facade.New(cfg)
		sched.Start(context.Background())
		defer sched.End()

		scenario(ctx, sched)
		return nil
	}
}

// linearChain: A.Starts(B); B.Starts(C) -- C begins only after both A and
// B have finished, in order.
func linearChain(_ *cli.Context, sched *facade.Scheduler) {
	var wg sync.WaitGroup
	wg.Add(3)

	c := sched.NewTask("C", func(ctx context.Context) *task.Task {
		defer wg.Done()
		fmt.Println("C running")
		return nil
	}, -1)
	b := sched.NewTask("B", func(ctx context.Context) *task.Task {
		defer wg.Done()
		fmt.Println("B running")
		return nil
	}, -1)
	a := sched.NewTask("A", func(ctx context.Context) *task.Task {
		defer wg.Done()
		fmt.Println("A running")
		return nil
	}, -1)
	b.Starts(c)
	a.Starts(b)

	sched.Submit(c)
	sched.Submit(b)
	sched.Submit(a)
	wg.Wait()
}

// fanOut: one root task dynamically spawns N children from inside its
// own body and extends its own completion with each of them (spec §1's
// "creating tasks during execution of other tasks"), since a single
// direct Starts/Ends edge cannot target more than one successor.
func fanOut(_ *cli.Context, sched *facade.Scheduler) {
	const n = 8
	var wg sync.WaitGroup
	wg.Add(1 + n)

	var root *task.Task
	root = sched.NewTask("root", func(ctx context.Context) *task.Task {
		defer wg.Done()
		id, _ := worker.WorkerID(ctx)
		for i := 0; i < n; i++ {
			i := i
			child := sched.NewTask(fmt.Sprintf("child-%d", i), func(ctx context.Context) *task.Task {
				defer wg.Done()
				fmt.Printf("child %d running\n", i)
				return nil
			}, id)
			// root must ExtendWith any child it wants counted toward its
			// own completion before handing the child off; self-reference
			// via closure, since a task body only receives ctx.
			root.ExtendWith(child)
			sched.Submit(child)
		}
		fmt.Println("root spawned all children")
		return nil
	}, -1)
	sched.Submit(root)
	wg.Wait()
}

// fanIn: N leaves each independently Starts the same shared sink; the
// sink is not ready until every leaf has finished.
func fanIn(_ *cli.Context, sched *facade.Scheduler) {
	const n = 5
	var wg sync.WaitGroup
	wg.Add(n + 1)

	sink := sched.NewTask("sink", func(ctx context.Context) *task.Task {
		defer wg.Done()
		fmt.Println("sink running: all leaves finished")
		return nil
	}, -1)

	leaves := make([]*task.Task, n)
	for i := range leaves {
		i := i
		leaves[i] = sched.NewTask(fmt.Sprintf("leaf-%d", i), func(ctx context.Context) *task.Task {
			defer wg.Done()
			fmt.Printf("leaf %d running\n", i)
			return nil
		}, -1)
		leaves[i].Starts(sink)
	}

	sched.Submit(sink)
	for _, leaf := range leaves {
		sched.Submit(leaf)
	}
	wg.Wait()
}

// continuation: A's body returns B directly; B runs immediately on the
// same worker, bypassing the queues entirely.
func continuation(_ *cli.Context, sched *facade.Scheduler) {
	done := make(chan struct{})
	b := sched.NewTask("B", func(ctx context.Context) *task.Task {
		fmt.Println("B running as a continuation of A")
		close(done)
		return nil
	}, -1)
	a := sched.NewTask("A", func(ctx context.Context) *task.Task {
		fmt.Println("A running, returning B as its continuation")
		return b
	}, -1)
	sched.Submit(a)
	<-done
}

// taskSet: a 1000-index TaskSet, run by the worker loop in ClaimRange
// chunks, one chunk after another, each on whichever worker holds the set.
func taskSet(_ *cli.Context, sched *facade.Scheduler) {
	const n = 1000
	var completed atomic.Int32
	done := make(chan struct{})

	r := runners.NewParallelRunner(sched)
	ts := r.Run(n, func(ctx context.Context, index int) {
		if completed.Add(1) == n {
			close(done)
		}
	})
	_ = ts
	<-done
	fmt.Printf("task set completed: %d invocations\n", completed.Load())
}

// affinity: a task pinned to worker 1; its body confirms it ran there.
func affinity(_ *cli.Context, sched *facade.Scheduler) {
	done := make(chan struct{})
	t := sched.NewTask("pinned", func(ctx context.Context) *task.Task {
		id, _ := worker.WorkerID(ctx)
		fmt.Printf("pinned task ran on worker %d\n", id)
		close(done)
		return nil
	}, -1)
	t.SetAffinity(1)
	sched.Submit(t)
	<-done
}

// extendWith: a running task spawns one child and must not be considered
// DONE until that child also finishes.
func extendWith(_ *cli.Context, sched *facade.Scheduler) {
	afterParentDone := make(chan struct{})

	var parent *task.Task
	parent = sched.NewTask("parent", func(ctx context.Context) *task.Task {
		id, _ := worker.WorkerID(ctx)
		child := sched.NewTask("child", func(ctx context.Context) *task.Task {
			fmt.Println("child running")
			time.Sleep(20 * time.Millisecond)
			fmt.Println("child finished")
			return nil
		}, id)
		parent.ExtendWith(child)
		sched.Submit(child)
		fmt.Println("parent body returned, but parent is not DONE until child finishes")
		return nil
	}, -1)
	// afterParentDone only becomes ready once parent.finish() actually
	// runs -- which ExtendWith gates on the child finishing too.
	sentinel := sched.NewTask("after-parent-done", func(ctx context.Context) *task.Task {
		fmt.Println("parent (and its child) are both DONE now")
		close(afterParentDone)
		return nil
	}, -1)
	parent.Starts(sentinel)

	sched.Submit(sentinel)
	sched.Submit(parent)
	<-afterParentDone
}
