package cli

import (
	"errors"

	"github.com/drag88/claude-memory-system/internal/filelock"
	"github.com/drag88/claude-memory-system/internal/session"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/drag88/claude-memory-system/internal/workflow"
)

// Exit codes.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitPhaseViolation = 2
	ExitPlanLocked     = 3
	ExitLockTimeout    = 4
	ExitNotFound       = 5
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, workflow.ErrPlanAlreadyLocked):
		return ExitPlanLocked
	case errors.Is(err, workflow.ErrPhaseViolation), errors.Is(err, workflow.ErrNoPlanYet):
		return ExitPhaseViolation
	case errors.Is(err, filelock.ErrLockTimeout):
		return ExitLockTimeout
	case errors.Is(err, store.ErrNotFound), errors.Is(err, session.ErrSessionNotFound):
		return ExitNotFound
	}
	return ExitError
}
