// Package workflow derives a task's phase from its artifacts and decides
// whether an operation is legal in that phase.
//
// Everything here is a pure function of a State. Nothing is cached: the
// caller re-reads disk under the task lock and asks again every time.
package workflow

import (
	"errors"
	"fmt"

	"github.com/drag88/claude-memory-system/internal/store"
)

// --- Phase enum ---

// Phase is the workflow position of a task.
type Phase string

const (
	// PhaseDiscovery: no plan yet. Scratchpad writes allowed.
	PhaseDiscovery Phase = "DISCOVERY"
	// PhasePlanned: plan present, progress empty.
	PhasePlanned Phase = "PLANNED"
	// PhaseExecuting: plan present, progress non-empty.
	PhaseExecuting Phase = "EXECUTING"
)

// --- Operation enum ---

// Op is a mutating operation on a task.
type Op string

const (
	OpScratchpad Op = "scratchpad"
	OpPlan       Op = "plan"
	OpAppend     Op = "append"
)

// ValidateOp returns an error if the op is not recognized.
func ValidateOp(op Op) error {
	switch op {
	case OpScratchpad, OpPlan, OpAppend:
		return nil
	}
	return fmt.Errorf("invalid operation %q: must be one of: scratchpad, plan, append", op)
}

// Kind returns the artifact an op writes.
func (op Op) Kind() store.Kind {
	switch op {
	case OpPlan:
		return store.KindPlan
	case OpAppend:
		return store.KindProgress
	}
	return store.KindScratchpad
}

// --- Rule violations ---

var (
	// ErrPhaseViolation is returned for operations illegal in the current phase.
	ErrPhaseViolation = errors.New("phase violation")
	// ErrPlanAlreadyLocked is returned when a plan with content exists.
	ErrPlanAlreadyLocked = errors.New("plan already locked")
	// ErrNoPlanYet is returned when appending progress before a plan exists.
	// It also matches ErrPhaseViolation.
	ErrNoPlanYet = errors.New("no plan yet")
)

// Rule names the invariant a rejected operation would break.
type Rule string

const (
	RuleNoScratchpadAfterPlan Rule = "scratchpad is closed once a plan exists"
	RulePlanImmutable         Rule = "a plan cannot be changed once written"
	RuleNoProgressWithoutPlan Rule = "progress requires a plan"
)

// Violation is the error returned for a rejected operation.
type Violation struct {
	Task  string
	Op    Op
	Phase Phase
	Rule  Rule
	err   error
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: cannot %s task %q in phase %s: %s", v.err, v.Op, v.Task, v.Phase, v.Rule)
}

// Unwrap lets errors.Is match the sentinel, and ErrPhaseViolation for
// ErrNoPlanYet.
func (v *Violation) Unwrap() []error {
	if v.err == ErrNoPlanYet {
		return []error{ErrNoPlanYet, ErrPhaseViolation}
	}
	return []error{v.err}
}
