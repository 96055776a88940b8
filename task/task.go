// Package task implements the Task object and dependency protocol: the
// reference-counted work unit, its toStart/toEnd guard counters, the
// starts/ends edge machinery, and the finish protocol that threads
// through them.
//
// Nothing here knows about goroutines, queues, or workers. A Task is
// handed to a Scheduler (the interface below) at Submit time; the
// Scheduler decides where the task lands once it becomes ready. This
// keeps the dependency state machine testable in isolation, the way the
// original tasking.hpp keeps Task free of any notion of the thread pool
// that eventually runs it.
package task

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Priority bands, highest first. A CRITICAL task is preferred over a LOW
// one wherever a worker chooses among its own per-band queues or a
// victim's per-band deques (the shared inbox is a single FIFO with no
// bands), but -- because the ready queues are distributed across
// workers -- this is never a global ordering guarantee.
type Priority uint16

const (
	Critical Priority = iota
	High
	Normal
	Low
	NumPriorities

	// PriorityInvalid mirrors the original header's TaskPriority::INVALID
	// sentinel. Nothing in the scheduler produces it; it exists so debug
	// tooling has a way to say "not yet assigned."
	PriorityInvalid Priority = 0xffff
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "CRITICAL"
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	case Low:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", uint16(p))
	}
}

// AffinityAny means "any worker may run this task." Any other value is a
// worker index the task is pinned to.
const AffinityAny uint16 = 0xffff

// state is the debug-only lifecycle tag from the original header. It is
// only consulted when DebugAssertions is true, so release builds pay
// nothing for it beyond an atomic store.
type state uint32

const (
	stateNew state = iota
	stateReady
	stateRunning
	stateDone

	// stateInvalid mirrors TaskState::INVALID.
	stateInvalid state = 0xffff
)

func (s state) String() string {
	switch s {
	case stateNew:
		return "NEW"
	case stateReady:
		return "READY"
	case stateRunning:
		return "RUNNING"
	case stateDone:
		return "DONE"
	default:
		return "INVALID"
	}
}

// DebugAssertions gates the state-transition and edge-declaration
// assertions described in spec §3/§7. It defaults to false (contract
// violations are undefined behavior, as the original documents); a test
// that exercises the assertions sets it to true for its own duration,
// matching the original's NDEBUG split without needing a separate build
// tag per binary.
var DebugAssertions = false

// Func is a task body. It may return a continuation -- another task,
// already ready, that the worker running this body should execute next,
// bypassing the queues entirely (see worker.Worker.Run).
type Func func(ctx context.Context) *Task

// SetFunc is the body of a TaskSet: it is invoked once per index in
// [0, N).
type SetFunc func(ctx context.Context, index int)

// Scheduler is the dependency a Task needs to become runnable: something
// that can place a now-ready task into the right ready queue. Submit and
// the finish protocol call into it; they never touch queues directly.
// "from" is the worker index performing the enqueue, or -1 if the call
// did not originate inside a worker's scheduling loop (e.g. a Submit
// from ordinary user code on the main goroutine).
type Scheduler interface {
	Enqueue(t *Task, from int)
}

// Task is the unit of work. See the package doc and spec §3 for the
// field-by-field contract; the names below intentionally mirror
// toStart/toEnd/onStart/onEnd from the original tasking.hpp.
type Task struct {
	id   uuid.UUID
	name string

	fn Func
	st *setState // non-nil only for TaskSet-shaped tasks, see NewSet/ResetSet.

	toStart atomic.Int32
	toEnd   atomic.Int32

	onStart *Task
	onEnd   *Task

	priority Priority
	affinity uint16

	state    atomic.Uint32
	refCount atomic.Int32

	// recycle, if set (by Reset, for allocator-vended tasks), is called
	// once refCount reaches zero, handing the task back to whatever
	// alloc.Allocator vended it. Left nil for tasks built directly via
	// New/NewSet.
	recycle func(*Task)

	sched Scheduler
}

type setState struct {
	total     int
	next      atomic.Int32
	remaining atomic.Int32
	body      SetFunc
}

// New constructs a task in state NEW with both guard counters at 1, per
// spec §3. name is optional and purely for debugging/tracing; when
// empty, the task is still given a stable uuid so logs always have
// something to key on.
func New(name string, fn Func) *Task {
	t := &Task{
		id:       uuid.New(),
		name:     name,
		fn:       fn,
		priority: Normal,
		affinity: AffinityAny,
	}
	t.toStart.Store(1)
	t.toEnd.Store(1)
	t.state.Store(uint32(stateNew))
	t.refCount.Store(1) // the scheduler's own reference, released on finish
	return t
}

// NewSet constructs a TaskSet: a task whose body is invoked n times, each
// invocation receiving a distinct index in [0, n). It finishes only once
// all n invocations have completed (spec §4.3).
func NewSet(name string, n int, body SetFunc) *Task {
	if n < 0 {
		n = 0
	}
	t := New(name, nil)
	t.st = &setState{total: n, body: body}
	t.st.remaining.Store(int32(n))
	return t
}

// ID returns the task's debug identifier.
func (t *Task) ID() uuid.UUID { return t.id }

// Name returns the task's debug name (may be empty).
func (t *Task) Name() string { return t.name }

func (t *Task) String() string {
	if t.name != "" {
		return t.name
	}
	return t.id.String()
}

// IsSet reports whether this task is a TaskSet.
func (t *Task) IsSet() bool { return t.st != nil }

// SetSize returns the number of invocations for a TaskSet, or 0 for a
// plain Task.
func (t *Task) SetSize() int {
	if t.st == nil {
		return 0
	}
	return t.st.total
}

// Priority returns the task's priority band.
func (t *Task) Priority() Priority { return t.priority }

// Affinity returns the task's pinned worker index, or AffinityAny.
func (t *Task) Affinity() uint16 { return t.affinity }

func (t *Task) currentState() state { return state(t.state.Load()) }

// assertState panics with a ContractViolation when DebugAssertions is
// enabled and the task is not in one of the allowed states. It is a
// no-op otherwise -- contract violations are undefined behavior in
// release builds, per spec §7.
func (t *Task) assertState(op string, allowed ...state) {
	if !DebugAssertions {
		return
	}
	cur := t.currentState()
	for _, s := range allowed {
		if cur == s {
			return
		}
	}
	panic(ContractViolation{Op: op, Task: t.String(), State: cur.String()})
}

// SetPriority sets the task's priority band. Permitted only while NEW.
func (t *Task) SetPriority(p Priority) {
	t.assertState("SetPriority", stateNew)
	t.priority = p
}

// SetAffinity pins the task to a worker index, or AffinityAny. Permitted
// only while NEW.
func (t *Task) SetAffinity(a uint16) {
	t.assertState("SetAffinity", stateNew)
	t.affinity = a
}

// Starts declares that t, once it finishes, releases other to begin:
// other's submission guard is raised by one now and paid back when t
// finishes (cascaded through t.onStart in finish()). other must be NEW.
// A task may have at most one outgoing starts edge (t.onStart); a second
// call is a silent no-op (spec §9 Open Questions preserves this rather
// than "fixing" it) — chain A.Starts(B); B.Starts(C) for a linear order,
// and have each of several predecessors call predecessor.Starts(sink) to
// fan many predecessors into one sink, since the one-edge-per-task limit
// only bounds how many direct successors a single predecessor can hold,
// not how many predecessors a given successor can accumulate.
func (t *Task) Starts(other *Task) {
	if other == nil {
		return
	}
	other.assertState("Starts(target)", stateNew)
	if t.onStart != nil {
		return // already a task to start
	}
	other.toStart.Add(1)
	t.onStart = other
}

// Ends declares that t, once it finishes, releases other to finish: other
// must be NEW or RUNNING (a running task may extend its own completion by
// spawning "ends" children, per spec I3). other's to_end is raised by one
// now and paid back when t finishes. At most one outgoing ends edge per
// task; a second call is a silent no-op. The common case — a running
// parent must not be considered done until a child it just spawned
// finishes — is written child.Ends(parent) (see ExtendWith for the
// parent-side spelling of the same call).
func (t *Task) Ends(other *Task) {
	if other == nil {
		return
	}
	other.assertState("Ends(target)", stateNew, stateRunning)
	if t.onEnd != nil {
		return // already a task to end
	}
	other.toEnd.Add(1)
	t.onEnd = other
}

// ExtendWith is sugar for child.Ends(t), written from the parent's side:
// a running task t calls t.ExtendWith(child) right after creating child,
// to declare that t must not be considered DONE until child also
// finishes. child must be NEW.
func (t *Task) ExtendWith(child *Task) {
	child.Ends(t)
}

// Submit hands the task to the scheduler, decrementing its submission
// guard. If the guard reaches zero (no outstanding start-edges target
// this task besides the submission guard itself), the task is enqueued
// immediately. from is the calling worker index, or -1 for calls made
// outside any worker's loop.
func (t *Task) Submit(s Scheduler, from int) {
	t.sched = s
	if t.toStart.Add(-1) == 0 {
		t.markReady()
		s.Enqueue(t, from)
	}
}

func (t *Task) markReady() {
	if DebugAssertions {
		if !t.state.CompareAndSwap(uint32(stateNew), uint32(stateReady)) {
			panic(ContractViolation{Op: "markReady", Task: t.String(), State: t.currentState().String()})
		}
		return
	}
	t.state.Store(uint32(stateReady))
}

// markRunning transitions READY -> RUNNING, the normal case for a task
// that went through Submit and was picked up from a queue. It also
// accepts NEW -> RUNNING, for a continuation task a predecessor's body
// constructed and returned directly (spec §4.5): such a task was never
// placed in any queue, so it never passed through markReady, but by
// convention it is handed to the worker already free of any incoming
// edge of its own. Called by the worker package immediately before
// invoking the body.
func (t *Task) markRunning() {
	if DebugAssertions {
		if t.state.CompareAndSwap(uint32(stateReady), uint32(stateRunning)) {
			return
		}
		if t.state.CompareAndSwap(uint32(stateNew), uint32(stateRunning)) {
			return
		}
		panic(ContractViolation{Op: "markRunning", Task: t.String(), State: t.currentState().String()})
	}
	t.state.Store(uint32(stateRunning))
}

// Run invokes the plain-task body. It must only be called by the worker
// package, and only on a task that is not a TaskSet.
func (t *Task) Run(ctx context.Context) *Task {
	t.markRunning()
	return t.fn(ctx)
}

// RunSetIndex invokes one TaskSet body call at the given index. It must
// only be called by the worker package.
func (t *Task) RunSetIndex(ctx context.Context, index int) {
	if t.currentState() != stateRunning {
		t.markRunning()
	}
	t.st.body(ctx, index)
}

// ClaimRange atomically reserves up to want contiguous indices from a
// TaskSet's remaining, unclaimed range, implementing the split half of
// spec §4.3: the caller runs [start, end) locally and may re-enqueue the
// same *Task for further splitting/stealing of whatever is left.
func (t *Task) ClaimRange(want int) (start, end int, ok bool) {
	if t.st == nil || want <= 0 {
		return 0, 0, false
	}
	for {
		cur := t.st.next.Load()
		if int(cur) >= t.st.total {
			return 0, 0, false
		}
		n := want
		if int(cur)+n > t.st.total {
			n = t.st.total - int(cur)
		}
		if t.st.next.CompareAndSwap(cur, cur+int32(n)) {
			return int(cur), int(cur) + n, true
		}
	}
}

// SetRemaining reports how many TaskSet invocations have not yet
// completed.
func (t *Task) SetRemaining() int {
	if t.st == nil {
		return 0
	}
	return int(t.st.remaining.Load())
}

// CompleteSetIndices marks n TaskSet invocations as finished (typically
// n == 1, called once per index; the worker loop may batch this after
// running a claimed range locally). Once remaining reaches zero the
// normal finish protocol runs.
func (t *Task) CompleteSetIndices(n int) {
	if t.st.remaining.Add(-int32(n)) == 0 {
		t.finish()
	}
}

// Finish runs the finish protocol (spec §4.2) for a plain task: it is
// called by the worker package once a non-TaskSet body returns.
func (t *Task) Finish() {
	t.finish()
}

func (t *Task) finish() {
	if t.toEnd.Add(-1) != 0 {
		return // still waiting on ends-children
	}

	if DebugAssertions {
		if !t.state.CompareAndSwap(uint32(stateRunning), uint32(stateDone)) {
			panic(ContractViolation{Op: "finish", Task: t.String(), State: t.currentState().String()})
		}
	} else {
		t.state.Store(uint32(stateDone))
	}

	if onEnd := t.onEnd; onEnd != nil {
		onEnd.finish0() // may recursively cascade
	}
	if onStart := t.onStart; onStart != nil {
		if onStart.toStart.Add(-1) == 0 {
			onStart.markReady()
			onStart.sched.Enqueue(onStart, -1)
		}
	}

	t.release()
}

// finish0 is the "decrement this task's toEnd because a task that ends
// on it just finished" half of the protocol -- it may cascade (this
// task's own onEnd) without necessarily meaning *this* task's body ever
// ran to completion through the normal Run path (it always did; toEnd
// only reaches zero after the self-guard decrement happens in Run's
// caller). It is named distinctly from finish to make the recursive
// cascade in finish's onEnd branch read clearly at the call site.
func (t *Task) finish0() {
	t.finish()
}

// release drops the scheduler's reference to the task. When the
// refcount reaches zero the task is eligible for recycling by whatever
// allocator vended it (see alloc.Allocator); tasks created directly via
// New/NewSet, which never set a recycle hook, are simply left for the
// garbage collector.
func (t *Task) release() {
	t.dropRef()
}

// Retain adds a reference, for user code that wants to hold a handle to
// a task past scheduling (e.g. to poll SetRemaining for progress).
func (t *Task) Retain() { t.refCount.Add(1) }

// Release drops a user-held reference taken via Retain. If this was the
// last reference, the recycle hook set at construction (see Reset) fires
// just as it would from the scheduler's own release.
func (t *Task) Release() { t.dropRef() }

func (t *Task) dropRef() {
	if t.refCount.Add(-1) == 0 {
		if recycle := t.recycle; recycle != nil {
			recycle(t)
		}
	}
}

// RefCount reports the current reference count, for tests and the P6
// memory-bound property.
func (t *Task) RefCount() int32 { return t.refCount.Load() }

// Reset restores a finished task (RefCount() == 0) to NEW state with a
// fresh id, name, and body, as though newly built via New, and installs
// recycle as the hook invoked the next time this task's refcount reaches
// zero. Exported for alloc.Allocator-backed vending (see
// facade.Scheduler.NewTask); callers constructing tasks directly via
// New/NewSet do not need it -- recycle is nil for those, so release is a
// plain decrement and the task is left for the garbage collector.
func (t *Task) Reset(name string, fn Func, recycle func(*Task)) {
	*t = Task{
		id:       uuid.New(),
		name:     name,
		fn:       fn,
		priority: Normal,
		affinity: AffinityAny,
		recycle:  recycle,
	}
	t.toStart.Store(1)
	t.toEnd.Store(1)
	t.state.Store(uint32(stateNew))
	t.refCount.Store(1)
}

// ResetSet is Reset's TaskSet-shaped counterpart, for
// facade.Scheduler.NewTaskSet.
func (t *Task) ResetSet(name string, n int, body SetFunc, recycle func(*Task)) {
	t.Reset(name, nil, recycle)
	if n < 0 {
		n = 0
	}
	t.st = &setState{total: n, body: body}
	t.st.remaining.Store(int32(n))
}
