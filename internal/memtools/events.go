package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/drag88/claude-memory-system/internal/journal"
	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// EventsTool handles the memory_events MCP tool.
type EventsTool struct {
	svc *memory.Service
}

// NewEventsTool creates an EventsTool.
func NewEventsTool(svc *memory.Service) *EventsTool {
	return &EventsTool{svc: svc}
}

// Definition returns the MCP tool definition for memory_events.
func (t *EventsTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_events",
		mcp.WithDescription(
			"List recent memory events, newest first: writes, rejected operations and reclaimed stale locks.",
		),
		mcp.WithString("task",
			mcp.Description("Only events of this task"),
		),
		mcp.WithString("kind",
			mcp.Description("Only events of this kind, e.g. rejected or stale_lock_reclaimed"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of events (default: %d)", journal.DefaultLimit)),
		),
		withSession(),
	)
}

// Handle processes the memory_events tool call.
func (t *EventsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := journal.Filter{
		SessionID: req.GetString("session_id", ""),
		Task:      req.GetString("task", ""),
		Kind:      journal.Kind(req.GetString("kind", "")),
		Limit:     intArg(req, "limit", journal.DefaultLimit),
	}
	events, err := t.svc.Events(ctx, f)
	if err != nil {
		return errorResult("read events", err), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No events recorded."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Recent events (%d)\n\n", len(events))
	for _, e := range events {
		fmt.Fprintf(&b, "- [%s] %s", e.At.Local().Format("2006-01-02 15:04:05"), e.Kind)
		if e.Task != "" {
			fmt.Fprintf(&b, " %s", e.Task)
		}
		if e.Phase != "" {
			fmt.Fprintf(&b, " (%s)", e.Phase)
		}
		if e.Detail != "" {
			fmt.Fprintf(&b, ": %s", e.Detail)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
