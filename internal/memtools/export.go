package memtools

import (
	"context"

	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// ExportTool handles the memory_export MCP tool.
type ExportTool struct {
	svc *memory.Service
}

// NewExportTool creates an ExportTool.
func NewExportTool(svc *memory.Service) *ExportTool {
	return &ExportTool{svc: svc}
}

// Definition returns the MCP tool definition for memory_export.
func (t *ExportTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_export",
		mcp.WithDescription(
			"Export all artifacts of a task (scratchpad, plan, progress entries) and its phase as one document.",
		),
		withTask(),
		mcp.WithString("format",
			mcp.Description("Output format (default: text)"),
			mcp.Enum("json", "yaml", "text"),
		),
		withSession(),
	)
}

// Handle processes the memory_export tool call.
func (t *ExportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := req.GetString("task", "")
	if task == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}
	format, err := memory.ParseFormat(req.GetString("format", "text"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	scope, err := scopeArg(ctx, t.svc, req)
	if err != nil {
		return errorResult("resolve session", err), nil
	}

	data, err := t.svc.Export(ctx, scope, task, format)
	if err != nil {
		return errorResult("export task", err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
