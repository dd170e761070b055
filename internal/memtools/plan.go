package memtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
)

// PlanTool handles the memory_plan MCP tool.
//   - Without content: returns the plan
//   - With content (or template=true): writes the plan once and locks it
type PlanTool struct {
	svc *memory.Service
}

// NewPlanTool creates a PlanTool.
func NewPlanTool(svc *memory.Service) *PlanTool {
	return &PlanTool{svc: svc}
}

// Definition returns the MCP tool definition for memory_plan.
func (t *PlanTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_plan",
		mcp.WithDescription(
			"Read or create the implementation plan of a task. "+
				"The plan can be written exactly once; after that it is read-only and the scratchpad is frozen. "+
				"Call WITHOUT content to read it.",
		),
		withTask(),
		mcp.WithString("content",
			mcp.Description("Full plan text. Omit to read."),
		),
		mcp.WithBoolean("template",
			mcp.Description("Write the plan template when no content is given (locks the plan)"),
		),
		withSession(),
	)
}

// Handle processes the memory_plan tool call.
func (t *PlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := req.GetString("task", "")
	if task == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}
	scope, err := scopeArg(ctx, t.svc, req)
	if err != nil {
		return errorResult("resolve session", err), nil
	}

	content := req.GetString("content", "")
	if content == "" && !boolArg(req, "template", false) {
		a, err := t.svc.Read(ctx, scope, task, store.KindPlan)
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultText(fmt.Sprintf(
				"No plan for %q yet. Call memory_plan with content (or template=true) to create it.", task)), nil
		}
		if err != nil {
			return errorResult("read plan", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("# Plan: %s\n\n%s", task, a.Content)), nil
	}

	res, err := t.svc.Plan(ctx, scope, task, content)
	if err != nil {
		return errorResult("create plan", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan locked for %q (%d bytes). The scratchpad is now read-only.", task, res.Artifact.Size)
	resultFooter(&b, res)
	return mcp.NewToolResultText(b.String()), nil
}
