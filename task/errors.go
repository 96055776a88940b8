package task

import "fmt"

// ContractViolation is panicked when DebugAssertions is enabled and user
// code violates one of the invariants in spec §3/§7 (declaring an edge
// on a task that is not NEW/RUNNING as required, mutating priority or
// affinity outside NEW, etc). In release builds (DebugAssertions ==
// false) these conditions are simply not checked, matching the "treated
// as a contract violation, not a runtime error" framing of §7.
type ContractViolation struct {
	Op    string // the operation that was attempted
	Task  string // the offending task's debug name/id
	State string // the task's actual state at the time of the call
}

func (e ContractViolation) Error() string {
	return fmt.Sprintf("taskgraph: contract violation: %s on task %q in state %s", e.Op, e.Task, e.State)
}
