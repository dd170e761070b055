package workflow

import (
	"fmt"

	"github.com/drag88/claude-memory-system/internal/store"
)

// --- State machine ---
//
//	DISCOVERY --plan--> PLANNED --append--> EXECUTING --append--> EXECUTING
//	DISCOVERY --scratchpad--> DISCOVERY
//
// There are no backward transitions.

// State is the part of a task's artifacts that the rules look at.
type State struct {
	Task            string
	HasScratchpad   bool
	HasPlan         bool
	PlanReadOnly    bool
	PlanEmpty       bool
	HasProgress     bool
	ProgressEntries int
}

// StateOf derives a State from a store snapshot.
func StateOf(snap store.Snapshot) State {
	st := State{Task: snap.Task}
	if snap.Scratchpad != nil {
		st.HasScratchpad = true
	}
	if snap.Plan != nil {
		st.PlanReadOnly = snap.Plan.ReadOnly
		st.HasPlan = snap.Plan.HasContent()
		st.PlanEmpty = !st.HasPlan
	}
	if snap.Progress != nil {
		st.HasProgress = true
		st.ProgressEntries = snap.Progress.Entries
	}
	return st
}

// PhaseOf returns the phase of a task.
func PhaseOf(st State) Phase {
	switch {
	case !st.HasPlan:
		return PhaseDiscovery
	case st.ProgressEntries == 0:
		return PhasePlanned
	default:
		return PhaseExecuting
	}
}

// Decision is the outcome of Decide. Err is nil when the op is allowed.
type Decision struct {
	Op   Op
	From Phase
	To   Phase
	Err  error
}

// Allowed reports whether the op may proceed.
func (d Decision) Allowed() bool { return d.Err == nil }

// Decide applies the transition rules to an op in the given state.
func Decide(st State, op Op) Decision {
	from := PhaseOf(st)
	d := Decision{Op: op, From: from, To: from}

	if err := ValidateOp(op); err != nil {
		d.Err = err
		return d
	}

	reject := func(sentinel error, rule Rule) Decision {
		d.Err = &Violation{Task: st.Task, Op: op, Phase: from, Rule: rule, err: sentinel}
		return d
	}

	switch op {
	case OpScratchpad:
		if from != PhaseDiscovery {
			return reject(ErrPhaseViolation, RuleNoScratchpadAfterPlan)
		}
	case OpPlan:
		if st.HasPlan {
			return reject(ErrPlanAlreadyLocked, RulePlanImmutable)
		}
		d.To = PhasePlanned
	case OpAppend:
		if from == PhaseDiscovery {
			return reject(ErrNoPlanYet, RuleNoProgressWithoutPlan)
		}
		d.To = PhaseExecuting
	}
	return d
}

// Allowed lists the ops legal in a state, in workflow order.
func Allowed(st State) []Op {
	var ops []Op
	for _, op := range []Op{OpScratchpad, OpPlan, OpAppend} {
		if Decide(st, op).Allowed() {
			ops = append(ops, op)
		}
	}
	return ops
}

// --- Guidance ---

// NextStep returns a one-line hint of what to do next in a phase.
func NextStep(task string, phase Phase) string {
	switch phase {
	case PhaseDiscovery:
		return fmt.Sprintf("Explore and record findings with `scratchpad %s`, then lock the approach with `plan %s`.", task, task)
	case PhasePlanned:
		return fmt.Sprintf("Plan is locked. Start executing and log each step with `append %s`.", task)
	case PhaseExecuting:
		return fmt.Sprintf("Keep logging progress with `append %s`. The plan and scratchpad are closed.", task)
	}
	return ""
}

// Issues reports integrity problems of a task's artifacts. They are
// warnings: none of them blocks an operation.
func Issues(st State) []string {
	var issues []string
	if st.HasProgress && !st.HasPlan {
		issues = append(issues, "progress log exists without a plan")
	}
	if st.HasPlan && !st.HasScratchpad {
		issues = append(issues, "plan exists without a scratchpad")
	}
	if st.PlanEmpty {
		issues = append(issues, "plan file is empty")
	}
	if st.HasPlan && !st.PlanReadOnly {
		issues = append(issues, "plan file is writable")
	}
	if st.HasProgress && st.ProgressEntries == 0 {
		issues = append(issues, "progress log has no entries")
	}
	return issues
}
