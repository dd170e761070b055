package workflow

import (
	"errors"
	"testing"

	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	discovery = State{Task: "t1", HasScratchpad: true}
	planned   = State{Task: "t1", HasScratchpad: true, HasPlan: true, PlanReadOnly: true}
	executing = State{Task: "t1", HasScratchpad: true, HasPlan: true, PlanReadOnly: true, HasProgress: true, ProgressEntries: 2}
)

// --- PhaseOf ---

func TestPhaseOf(t *testing.T) {
	assert.Equal(t, PhaseDiscovery, PhaseOf(State{}))
	assert.Equal(t, PhaseDiscovery, PhaseOf(discovery))
	assert.Equal(t, PhasePlanned, PhaseOf(planned))
	assert.Equal(t, PhaseExecuting, PhaseOf(executing))
	// An empty plan file does not count as a plan.
	assert.Equal(t, PhaseDiscovery, PhaseOf(State{PlanEmpty: true}))
}

func TestStateOf(t *testing.T) {
	snap := store.Snapshot{
		Task:       "t1",
		Scratchpad: &store.Artifact{Content: "notes"},
		Plan:       &store.Artifact{Content: "  \n", ReadOnly: true},
	}
	st := StateOf(snap)
	assert.True(t, st.HasScratchpad)
	assert.False(t, st.HasPlan)
	assert.True(t, st.PlanEmpty)
	assert.Equal(t, PhaseDiscovery, PhaseOf(st))

	snap.Plan.Content = "plan"
	snap.Progress = &store.Artifact{Entries: 3}
	st = StateOf(snap)
	assert.Equal(t, PhaseExecuting, PhaseOf(st))
	assert.Equal(t, 3, st.ProgressEntries)
}

// --- Decide ---

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name  string
		state State
		op    Op
		want  error
		to    Phase
	}{
		{"scratchpad in discovery", discovery, OpScratchpad, nil, PhaseDiscovery},
		{"scratchpad on new task", State{Task: "t1"}, OpScratchpad, nil, PhaseDiscovery},
		{"plan in discovery", discovery, OpPlan, nil, PhasePlanned},
		{"plan without scratchpad", State{Task: "t1"}, OpPlan, nil, PhasePlanned},
		{"append without plan", discovery, OpAppend, ErrNoPlanYet, PhaseDiscovery},
		{"scratchpad in planned", planned, OpScratchpad, ErrPhaseViolation, PhasePlanned},
		{"plan in planned", planned, OpPlan, ErrPlanAlreadyLocked, PhasePlanned},
		{"append in planned", planned, OpAppend, nil, PhaseExecuting},
		{"scratchpad in executing", executing, OpScratchpad, ErrPhaseViolation, PhaseExecuting},
		{"plan in executing", executing, OpPlan, ErrPlanAlreadyLocked, PhaseExecuting},
		{"append in executing", executing, OpAppend, nil, PhaseExecuting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.state, tt.op)
			assert.Equal(t, tt.to, d.To)
			if tt.want == nil {
				assert.True(t, d.Allowed(), "unexpected error: %v", d.Err)
				return
			}
			require.Error(t, d.Err)
			assert.ErrorIs(t, d.Err, tt.want)
		})
	}
}

func TestDecide_ViolationNamesRuleAndPhase(t *testing.T) {
	d := Decide(planned, OpScratchpad)
	require.Error(t, d.Err)

	var v *Violation
	require.True(t, errors.As(d.Err, &v))
	assert.Equal(t, PhasePlanned, v.Phase)
	assert.Equal(t, RuleNoScratchpadAfterPlan, v.Rule)
	assert.Contains(t, d.Err.Error(), string(PhasePlanned))
	assert.Contains(t, d.Err.Error(), string(RuleNoScratchpadAfterPlan))
}

func TestDecide_NoPlanYetIsPhaseViolation(t *testing.T) {
	d := Decide(discovery, OpAppend)
	assert.ErrorIs(t, d.Err, ErrNoPlanYet)
	assert.ErrorIs(t, d.Err, ErrPhaseViolation)
	assert.NotErrorIs(t, d.Err, ErrPlanAlreadyLocked)
}

func TestDecide_PlanAlreadyLockedIsNotPhaseViolation(t *testing.T) {
	d := Decide(planned, OpPlan)
	assert.ErrorIs(t, d.Err, ErrPlanAlreadyLocked)
	assert.NotErrorIs(t, d.Err, ErrPhaseViolation)
}

func TestDecide_UnknownOp(t *testing.T) {
	d := Decide(discovery, Op("delete"))
	assert.False(t, d.Allowed())
}

func TestDecide_Pure(t *testing.T) {
	a := Decide(planned, OpAppend)
	b := Decide(planned, OpAppend)
	assert.Equal(t, a, b)
}

func TestAllowed(t *testing.T) {
	assert.Equal(t, []Op{OpScratchpad, OpPlan}, Allowed(discovery))
	assert.Equal(t, []Op{OpAppend}, Allowed(planned))
	assert.Equal(t, []Op{OpAppend}, Allowed(executing))
}

// --- Guidance ---

func TestNextStep(t *testing.T) {
	for _, p := range []Phase{PhaseDiscovery, PhasePlanned, PhaseExecuting} {
		assert.Contains(t, NextStep("t1", p), "t1")
	}
	assert.Empty(t, NextStep("t1", Phase("UNKNOWN")))
}

func TestIssues(t *testing.T) {
	assert.Empty(t, Issues(executing))
	assert.Empty(t, Issues(State{}))

	got := Issues(State{HasProgress: true})
	assert.Contains(t, got, "progress log exists without a plan")
	assert.Contains(t, got, "progress log has no entries")

	got = Issues(State{HasPlan: true})
	assert.Contains(t, got, "plan exists without a scratchpad")
	assert.Contains(t, got, "plan file is writable")
}
