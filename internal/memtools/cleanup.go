package memtools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// CleanupTool handles the memory_cleanup MCP tool.
type CleanupTool struct {
	svc           *memory.Service
	defaultMaxAge int
}

// NewCleanupTool creates a CleanupTool. defaultMaxAge is in days.
func NewCleanupTool(svc *memory.Service, defaultMaxAge int) *CleanupTool {
	return &CleanupTool{svc: svc, defaultMaxAge: defaultMaxAge}
}

// Definition returns the MCP tool definition for memory_cleanup.
func (t *CleanupTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_cleanup",
		mcp.WithDescription(
			"Reclaim stale task locks and delete sessions not updated for max_age_days. "+
				"The current session and sessions with a held lock are kept.",
		),
		mcp.WithNumber("max_age_days",
			mcp.Description(fmt.Sprintf("Age in days after which a session is removed (default: %d)", t.defaultMaxAge)),
		),
	)
}

// Handle processes the memory_cleanup tool call.
func (t *CleanupTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := intArg(req, "max_age_days", t.defaultMaxAge)
	if days < 1 {
		return mcp.NewToolResultError("'max_age_days' must be at least 1"), nil
	}

	report, err := t.svc.Cleanup(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return errorResult("clean up", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cleanup done (max age %d days).\n\n", days)
	fmt.Fprintf(&b, "- Sessions removed: %d\n", len(report.RemovedSessions))
	for _, id := range report.RemovedSessions {
		fmt.Fprintf(&b, "  - %s\n", id)
	}
	fmt.Fprintf(&b, "- Stale locks reclaimed: %d\n", len(report.ReclaimedLocks))
	for _, rc := range report.ReclaimedLocks {
		fmt.Fprintf(&b, "  - %s (pid %d on %s)\n", rc.Key, rc.Previous.PID, rc.Previous.Hostname)
	}
	fmt.Fprintf(&b, "- Journal events pruned: %d\n", report.PrunedEvents)
	return mcp.NewToolResultText(b.String()), nil
}
