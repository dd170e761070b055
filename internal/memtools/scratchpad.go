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

// ScratchpadTool handles the memory_scratchpad MCP tool.
// It has dual read/write behavior:
//   - Without content: returns the scratchpad, creating it from the
//     template if the task has none
//   - With content: replaces the scratchpad (DISCOVERY phase only)
type ScratchpadTool struct {
	svc *memory.Service
}

// NewScratchpadTool creates a ScratchpadTool.
func NewScratchpadTool(svc *memory.Service) *ScratchpadTool {
	return &ScratchpadTool{svc: svc}
}

// Definition returns the MCP tool definition for memory_scratchpad.
func (t *ScratchpadTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_scratchpad",
		mcp.WithDescription(
			"Read or write the discovery scratchpad of a task. "+
				"Call WITHOUT content to read it (a template is created if missing), WITH content to replace it. "+
				"Writes are only allowed before the plan exists.",
		),
		withTask(),
		mcp.WithString("content",
			mcp.Description("Full scratchpad text. Omit to read."),
		),
		withSession(),
	)
}

// Handle processes the memory_scratchpad tool call.
func (t *ScratchpadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := req.GetString("task", "")
	if task == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}
	scope, err := scopeArg(ctx, t.svc, req)
	if err != nil {
		return errorResult("resolve session", err), nil
	}

	content := req.GetString("content", "")
	if content == "" {
		a, err := t.svc.Read(ctx, scope, task, store.KindScratchpad)
		if err == nil {
			return mcp.NewToolResultText(fmt.Sprintf("# Scratchpad: %s\n\n%s", task, a.Content)), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return errorResult("read scratchpad", err), nil
		}
	}

	res, err := t.svc.Scratchpad(ctx, scope, task, content)
	if err != nil {
		return errorResult("write scratchpad", err), nil
	}

	var b strings.Builder
	if content == "" {
		fmt.Fprintf(&b, "# Scratchpad: %s (created from template)\n\n%s", task, res.Artifact.Content)
	} else {
		fmt.Fprintf(&b, "Scratchpad saved for %q (%d bytes).", task, res.Artifact.Size)
	}
	resultFooter(&b, res)
	return mcp.NewToolResultText(b.String()), nil
}
