package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// SessionTool handles the memory_session MCP tool: info, start, list and
// switch in one tool, selected by action.
type SessionTool struct {
	svc *memory.Service
}

// NewSessionTool creates a SessionTool.
func NewSessionTool(svc *memory.Service) *SessionTool {
	return &SessionTool{svc: svc}
}

// Definition returns the MCP tool definition for memory_session.
func (t *SessionTool) Definition() mcp.Tool {
	return mcp.NewTool("memory_session",
		mcp.WithDescription(
			"Manage memory sessions. Tasks are scoped to a session. "+
				"action=info shows the current session and its tasks, start creates a new current session, "+
				"list shows all sessions, switch makes another session current.",
		),
		mcp.WithString("action",
			mcp.Description("What to do (default: info)"),
			mcp.Enum("info", "start", "list", "switch"),
		),
		mcp.WithString("name",
			mcp.Description("Name of the new session (action=start)"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session to inspect (action=info) or switch to (action=switch)"),
		),
	)
}

// Handle processes the memory_session tool call.
func (t *SessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch action := req.GetString("action", "info"); action {
	case "info":
		return t.handleInfo(ctx, req)
	case "start":
		sess, err := t.svc.StartSession(ctx, req.GetString("name", ""), nil)
		if err != nil {
			return errorResult("start session", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Session %s started and is now current.", sess.ID)), nil
	case "list":
		return t.handleList(ctx)
	case "switch":
		id := req.GetString("session_id", "")
		if id == "" {
			return mcp.NewToolResultError("'session_id' is required for action=switch"), nil
		}
		sess, err := t.svc.SwitchSession(ctx, id)
		if err != nil {
			return errorResult("switch session", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Switched to session %s.", sess.ID)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q: must be one of info, start, list, switch", action)), nil
	}
}

func (t *SessionTool) handleInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := scopeArg(ctx, t.svc, req)
	if err != nil {
		return errorResult("resolve session", err), nil
	}
	info, err := t.svc.SessionInfo(ctx, scope)
	if err != nil {
		return errorResult("read session", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", info.Session.ID)
	if info.Session.Name != "" {
		fmt.Fprintf(&b, "**Name**: %s\n", info.Session.Name)
	}
	fmt.Fprintf(&b, "**Current**: %t\n", info.Current)
	fmt.Fprintf(&b, "**Created**: %s\n", info.Session.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Updated**: %s\n", info.Session.UpdatedAt.Format("2006-01-02 15:04:05"))
	if info.Session.ProjectPath != "" {
		fmt.Fprintf(&b, "**Project**: %s\n", info.Session.ProjectPath)
	}

	fmt.Fprintf(&b, "\n## Tasks (%d)\n\n", len(info.Tasks))
	if len(info.Tasks) == 0 {
		b.WriteString("_None yet._\n")
	}
	for _, st := range info.Tasks {
		fmt.Fprintf(&b, "- %s: %s\n", st.Task, st.Phase)
	}
	fmt.Fprintf(&b, "\n_Sessions: %d total, %d active | Storage: %s_\n",
		info.Stats.Total, info.Stats.Active, info.Stats.StoragePath)
	return mcp.NewToolResultText(b.String()), nil
}

func (t *SessionTool) handleList(ctx context.Context) (*mcp.CallToolResult, error) {
	scope, err := t.svc.Resolve(ctx)
	if err != nil {
		return errorResult("resolve session", err), nil
	}
	var b strings.Builder
	b.WriteString("# Sessions\n\n")
	for sess, err := range t.svc.ListSessions(ctx) {
		if err != nil {
			return errorResult("list sessions", err), nil
		}
		marker := " "
		if sess.ID == scope.SessionID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s  %-12s  updated %s\n", marker, sess.ID, sess.Name,
			sess.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return mcp.NewToolResultText(b.String()), nil
}
