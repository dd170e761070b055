package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/drag88/claude-memory-system/internal/workflow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/samber/lo"
)

// StatusTool handles the memory_status MCP tool.
type StatusTool struct {
	svc *memory.Service
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(svc *memory.Service) *StatusTool {
	return &StatusTool{svc: svc}
}

// Definition returns the MCP tool definition for memory_status.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_status",
		mcp.WithDescription(
			"Show the phase, artifacts and next step of a task, or of every task in the session when task is \"*\" or omitted.",
		),
		mcp.WithString("task",
			mcp.Description("Task name, or \"*\" for all tasks (default: all)"),
		),
		mcp.WithBoolean("snapshot",
			mcp.Description("Read without waiting for the task lock"),
		),
		withSession(),
	)
}

// Handle processes the memory_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := scopeArg(ctx, t.svc, req)
	if err != nil {
		return errorResult("resolve session", err), nil
	}
	opts := memory.StatusOptions{Snapshot: boolArg(req, "snapshot", false)}

	task := req.GetString("task", store.AllTasks)
	if task == "" || task == store.AllTasks {
		all, err := t.svc.StatusAll(ctx, scope, opts)
		if err != nil {
			return errorResult("read status", err), nil
		}
		if len(all) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf(
				"No tasks in session %s yet. Start one with memory_scratchpad.", scope.SessionID)), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "# Tasks in session %s\n\n", scope.SessionID)
		fmt.Fprintf(&b, "| Task | Phase | Progress entries |\n|------|-------|------------------|\n")
		for _, st := range all {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", st.Task, st.Phase, st.ProgressEntries)
		}
		return mcp.NewToolResultText(b.String()), nil
	}

	st, err := t.svc.Status(ctx, scope, task, opts)
	if err != nil {
		return errorResult("read status", err), nil
	}
	return mcp.NewToolResultText(formatStatus(st)), nil
}

func formatStatus(st *memory.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n", st.Task)
	fmt.Fprintf(&b, "**Phase**: %s\n", st.Phase)
	fmt.Fprintf(&b, "**Session**: %s\n", st.SessionID)
	if h := st.LockedBy; h != nil {
		fmt.Fprintf(&b, "**Locked by**: pid %d on %s since %s\n", h.PID, h.Hostname, h.Since.Format("2006-01-02 15:04:05"))
	}
	if !st.Exists {
		b.WriteString("\n_No artifacts yet._\n")
	}

	b.WriteString("\n## Artifacts\n\n")
	for _, a := range st.Artifacts {
		if !a.Present {
			fmt.Fprintf(&b, "- ⬜ %s\n", a.Kind)
			continue
		}
		line := fmt.Sprintf("- ✅ %s (%d bytes", a.Kind, a.Size)
		if a.ReadOnly {
			line += ", read-only"
		}
		if a.Kind == store.KindProgress {
			line += fmt.Sprintf(", %d entries", st.ProgressEntries)
		}
		fmt.Fprintf(&b, "%s)\n", line)
	}

	if len(st.Allowed) > 0 {
		ops := lo.Map(st.Allowed, func(op workflow.Op, _ int) string { return string(op) })
		fmt.Fprintf(&b, "\n**Allowed**: %s\n", strings.Join(ops, ", "))
	}
	if len(st.Issues) > 0 {
		b.WriteString("\n## Issues\n\n")
		for _, issue := range st.Issues {
			fmt.Fprintf(&b, "- ⚠️ %s\n", issue)
		}
	}
	if st.NextStep != "" {
		fmt.Fprintf(&b, "\nNext: %s\n", st.NextStep)
	}
	return b.String()
}
