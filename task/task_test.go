package task

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingScheduler is a minimal task.Scheduler used to unit test the
// dependency protocol without a real worker loop.
type recordingScheduler struct {
	mu       sync.Mutex
	enqueued []*Task
}

func (s *recordingScheduler) Enqueue(t *Task, from int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, t)
}

func (s *recordingScheduler) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.enqueued))
	for i, t := range s.enqueued {
		out[i] = t.Name()
	}
	return out
}

func TestSubmitEnqueuesWhenGuardReachesZero(t *testing.T) {
	sched := &recordingScheduler{}
	tk := New("solo", func(ctx context.Context) *Task { return nil })

	tk.Submit(sched, -1)

	assert.Equal(t, []string{"solo"}, sched.names())
}

func TestStartsDelaysEnqueueUntilPredecessorFinishes(t *testing.T) {
	sched := &recordingScheduler{}
	a := New("a", func(ctx context.Context) *Task { return nil })
	b := New("b", func(ctx context.Context) *Task { return nil })

	a.Starts(b) // a releases b once a finishes

	a.Submit(sched, -1)
	b.Submit(sched, -1)

	// b must not be enqueued yet: a hasn't finished.
	require.Equal(t, []string{"a"}, sched.names())

	a.markRunning()
	a.Finish()

	assert.Equal(t, []string{"a", "b"}, sched.names())
}

func TestEndsDelaysFinishUntilChildFinishes(t *testing.T) {
	sched := &recordingScheduler{}
	a := New("a", nil)
	c := New("c", nil)

	a.ExtendWith(c) // equivalent to c.Ends(a): a waits for c to finish

	a.Submit(sched, -1)
	c.Submit(sched, -1)

	a.markRunning()
	a.Finish() // toEnd still has c's increment outstanding
	assert.Equal(t, stateRunning, a.currentState())

	c.markRunning()
	c.Finish()
	assert.Equal(t, stateDone, a.currentState())
}

func TestSecondStartsCallIsANoOp(t *testing.T) {
	sched := &recordingScheduler{}
	a := New("a", nil)
	b := New("b", nil)
	other := New("other", nil)

	a.Starts(b)
	a.Starts(other) // silently ignored: a already has an onStart edge

	assert.Same(t, b, a.onStart)
	assert.Equal(t, int32(1), other.toStart.Load())
	_ = sched
}

func TestFanInFromMultiplePredecessorsReleasesSinkOnce(t *testing.T) {
	sched := &recordingScheduler{}
	sink := New("sink", nil)
	preds := []*Task{New("p0", nil), New("p1", nil), New("p2", nil)}

	for _, p := range preds {
		p.Starts(sink) // each predecessor owns its own onStart edge into sink
	}

	sink.Submit(sched, -1)
	for _, p := range preds {
		p.Submit(sched, -1) // each predecessor has no incoming edge of its own: ready immediately
	}
	require.Equal(t, []string{"p0", "p1", "p2"}, sched.names(), "sink must not be ready until all predecessors finish")

	for i, p := range preds {
		p.markRunning()
		p.Finish()
		if i < len(preds)-1 {
			assert.NotContains(t, sched.names(), "sink")
		}
	}

	assert.Equal(t, []string{"p0", "p1", "p2", "sink"}, sched.names())
}

func TestContractViolationOnMisuseWhenAssertionsEnabled(t *testing.T) {
	DebugAssertions = true
	defer func() { DebugAssertions = false }()

	sched := &recordingScheduler{}
	a := New("a", nil)
	a.Submit(sched, -1)
	a.markRunning()

	assert.PanicsWithValue(t, ContractViolation{Op: "SetPriority", Task: "a", State: "RUNNING"}, func() {
		a.SetPriority(High)
	})
}

func TestClaimRangeSplitsDisjointRanges(t *testing.T) {
	ts := NewSet("set", 10, func(ctx context.Context, index int) {})

	s1, e1, ok1 := ts.ClaimRange(4)
	require.True(t, ok1)
	assert.Equal(t, 0, s1)
	assert.Equal(t, 4, e1)

	s2, e2, ok2 := ts.ClaimRange(4)
	require.True(t, ok2)
	assert.Equal(t, 4, s2)
	assert.Equal(t, 8, e2)

	s3, e3, ok3 := ts.ClaimRange(4)
	require.True(t, ok3)
	assert.Equal(t, 8, s3)
	assert.Equal(t, 10, e3) // truncated to total

	_, _, ok4 := ts.ClaimRange(1)
	assert.False(t, ok4)
}

func TestCompleteSetIndicesRunsFinishProtocolOnce(t *testing.T) {
	sched := &recordingScheduler{}
	ts := NewSet("set", 3, func(ctx context.Context, index int) {})
	ts.Submit(sched, -1)

	ts.CompleteSetIndices(1)
	ts.CompleteSetIndices(1)
	assert.Equal(t, stateReady, ts.currentState()) // not yet finished

	ts.CompleteSetIndices(1)
	assert.Equal(t, int32(0), ts.refCount.Load())
}
