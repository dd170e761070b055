// Package memtools provides the MCP tool handlers for task memory.
//
// Each tool follows the same pattern:
//   - A struct holding the memory.Service, injected via constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() processes the request and returns a result
//
// Rule violations and lock timeouts are returned as tool errors, not Go
// errors, so the agent sees the message and can react to it.
package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drag88/claude-memory-system/internal/filelock"
	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/drag88/claude-memory-system/internal/session"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/drag88/claude-memory-system/internal/workflow"
	"github.com/mark3labs/mcp-go/mcp"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// withSession adds the optional session_id parameter shared by all tools.
func withSession() mcp.ToolOption {
	return mcp.WithString("session_id",
		mcp.Description("Session to operate in (default: the current session)"),
	)
}

// withTask adds the required task parameter.
func withTask() mcp.ToolOption {
	return mcp.WithString("task",
		mcp.Required(),
		mcp.Description("Task name, unique within the session"),
	)
}

// scopeArg resolves the session_id argument into a scope.
func scopeArg(ctx context.Context, svc *memory.Service, req mcp.CallToolRequest) (memory.Scope, error) {
	return svc.ScopeFor(ctx, req.GetString("session_id", ""))
}

// errorResult turns an operation error into a tool error with a hint the
// agent can act on.
func errorResult(action string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("failed to %s: %v", action, err)
	switch {
	case errors.Is(err, workflow.ErrNoPlanYet):
		msg += "\n\nHint: create the plan with memory_plan before appending progress."
	case errors.Is(err, workflow.ErrPlanAlreadyLocked):
		msg += "\n\nHint: the plan is locked. Record changes of direction with memory_append."
	case errors.Is(err, workflow.ErrPhaseViolation):
		msg += "\n\nHint: the scratchpad is frozen once a plan exists. Use memory_append instead."
	case errors.Is(err, filelock.ErrLockTimeout):
		msg += "\n\nHint: another agent holds this task. Retry later or work on another task."
	case errors.Is(err, session.ErrSessionNotFound):
		msg += "\n\nHint: list sessions with memory_session action=list."
	case errors.Is(err, store.ErrInvalidTask):
		msg += "\n\nHint: task names must be non-empty, at most 200 bytes once escaped (3 bytes per character outside A-Z, a-z, 0-9, _ and -), without newlines, and not \"*\"."
	}
	return mcp.NewToolResultError(msg)
}

// resultFooter renders the outcome of a mutating call.
func resultFooter(b *strings.Builder, res *memory.Result) {
	fmt.Fprintf(b, "\n\n---\n_Phase: %s → %s | Session: %s_\n", res.From, res.To, res.SessionID)
	if res.Reclaimed != nil {
		fmt.Fprintf(b, "_Reclaimed a stale lock left by pid %d on %s._\n",
			res.Reclaimed.Previous.PID, res.Reclaimed.Previous.Hostname)
	}
	if res.NextStep != "" {
		fmt.Fprintf(b, "\nNext: %s\n", res.NextStep)
	}
}
