package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// AppendTool handles the memory_append MCP tool.
type AppendTool struct {
	svc *memory.Service
}

// NewAppendTool creates an AppendTool.
func NewAppendTool(svc *memory.Service) *AppendTool {
	return &AppendTool{svc: svc}
}

// Definition returns the MCP tool definition for memory_append.
func (t *AppendTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_append",
		mcp.WithDescription(
			"Append one entry to the progress log of a task. "+
				"Requires a plan. Entries are numbered and timestamped and are never edited.",
		),
		withTask(),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Progress entry text"),
		),
		withSession(),
	)
}

// Handle processes the memory_append tool call.
func (t *AppendTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := req.GetString("task", "")
	if task == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}
	content := req.GetString("content", "")
	if content == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}
	scope, err := scopeArg(ctx, t.svc, req)
	if err != nil {
		return errorResult("resolve session", err), nil
	}

	res, err := t.svc.Append(ctx, scope, task, content)
	if err != nil {
		return errorResult("append progress", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Progress entry #%d recorded for %q.", res.Entries, task)
	resultFooter(&b, res)
	return mcp.NewToolResultText(b.String()), nil
}
