package memtools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/drag88/claude-memory-system/internal/journal"
	"github.com/drag88/claude-memory-system/internal/layout"
	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// newTestService creates a memory.Service with a journal in a temp directory.
func newTestService(t *testing.T) *memory.Service {
	t.Helper()
	root := t.TempDir()
	j, err := journal.Open(layout.JournalPath(root))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	svc, err := memory.New(memory.Config{
		Root:          root,
		LockTimeout:   2 * time.Second,
		RetryInterval: 5 * time.Millisecond,
	}, memory.WithJournal(j))
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}
	return svc
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// call runs a handler and fails the test on a Go error.
func call(t *testing.T, h handler, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := h(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	return res
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestDefinitions(t *testing.T) {
	svc := newTestService(t)
	tests := []struct {
		tool     mcp.Tool
		name     string
		required []string
	}{
		{NewScratchpadTool(svc).Definition(), "memory_scratchpad", []string{"task"}},
		{NewPlanTool(svc).Definition(), "memory_plan", []string{"task"}},
		{NewAppendTool(svc).Definition(), "memory_append", []string{"task", "content"}},
		{NewStatusTool(svc).Definition(), "memory_status", nil},
		{NewExportTool(svc).Definition(), "memory_export", []string{"task"}},
		{NewSessionTool(svc).Definition(), "memory_session", nil},
		{NewCleanupTool(svc, 30).Definition(), "memory_cleanup", nil},
		{NewEventsTool(svc).Definition(), "memory_events", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.tool.Name != tt.name {
				t.Errorf("tool name = %q, want %q", tt.tool.Name, tt.name)
			}
			if tt.tool.Description == "" {
				t.Error("missing description")
			}
			for _, r := range tt.required {
				found := false
				for _, got := range tt.tool.InputSchema.Required {
					if got == r {
						found = true
					}
				}
				if !found {
					t.Errorf("%q should be required", r)
				}
			}
		})
	}
}

// ─── ScratchpadTool ──────────────────────────────────────────────────────────

func TestScratchpadTool_ReadCreatesTemplate(t *testing.T) {
	tool := NewScratchpadTool(newTestService(t))

	res := call(t, tool.Handle, map[string]interface{}{"task": "t1"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	text := resultText(res)
	if !strings.Contains(text, "created from template") {
		t.Errorf("expected template notice, got: %s", text)
	}
	if !strings.Contains(text, "t1") {
		t.Errorf("template should mention the task, got: %s", text)
	}
}

func TestScratchpadTool_WriteThenRead(t *testing.T) {
	tool := NewScratchpadTool(newTestService(t))

	res := call(t, tool.Handle, map[string]interface{}{"task": "t1", "content": "notes A"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "DISCOVERY") {
		t.Errorf("expected phase in footer, got: %s", resultText(res))
	}

	res = call(t, tool.Handle, map[string]interface{}{"task": "t1"})
	if !strings.Contains(resultText(res), "notes A") {
		t.Errorf("read should return content, got: %s", resultText(res))
	}
}

func TestScratchpadTool_MissingTask(t *testing.T) {
	tool := NewScratchpadTool(newTestService(t))
	res := call(t, tool.Handle, map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected error for missing task")
	}
}

func TestScratchpadTool_RejectedAfterPlan(t *testing.T) {
	svc := newTestService(t)
	call(t, NewPlanTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "plan"})

	res := call(t, NewScratchpadTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "late"})
	if !res.IsError {
		t.Fatal("expected phase violation")
	}
	if !strings.Contains(resultText(res), "memory_append") {
		t.Errorf("expected hint, got: %s", resultText(res))
	}

	// Reading is still allowed, and there is nothing to read.
	res = call(t, NewScratchpadTool(svc).Handle, map[string]interface{}{"task": "t1"})
	if !res.IsError {
		t.Fatalf("template creation after plan should be rejected, got: %s", resultText(res))
	}
}

// ─── PlanTool ────────────────────────────────────────────────────────────────

func TestPlanTool_ReadMissing(t *testing.T) {
	tool := NewPlanTool(newTestService(t))
	res := call(t, tool.Handle, map[string]interface{}{"task": "t1"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "No plan") {
		t.Errorf("got: %s", resultText(res))
	}
}

func TestPlanTool_WriteOnce(t *testing.T) {
	tool := NewPlanTool(newTestService(t))

	res := call(t, tool.Handle, map[string]interface{}{"task": "t1", "content": "P1"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "PLANNED") {
		t.Errorf("expected PLANNED, got: %s", resultText(res))
	}

	res = call(t, tool.Handle, map[string]interface{}{"task": "t1", "content": "P2"})
	if !res.IsError {
		t.Fatal("second plan should be rejected")
	}
	if !strings.Contains(resultText(res), "locked") {
		t.Errorf("expected locked message, got: %s", resultText(res))
	}

	res = call(t, tool.Handle, map[string]interface{}{"task": "t1"})
	if !strings.Contains(resultText(res), "P1") || strings.Contains(resultText(res), "P2") {
		t.Errorf("plan should be unchanged, got: %s", resultText(res))
	}
}

func TestPlanTool_Template(t *testing.T) {
	tool := NewPlanTool(newTestService(t))
	res := call(t, tool.Handle, map[string]interface{}{"task": "t1", "template": true})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	res = call(t, tool.Handle, map[string]interface{}{"task": "t1"})
	if !strings.Contains(resultText(res), "t1 - Implementation Plan") {
		t.Errorf("expected plan template, got: %s", resultText(res))
	}
}

// ─── AppendTool ──────────────────────────────────────────────────────────────

func TestAppendTool_RequiresPlan(t *testing.T) {
	tool := NewAppendTool(newTestService(t))
	res := call(t, tool.Handle, map[string]interface{}{"task": "t1", "content": "did X"})
	if !res.IsError {
		t.Fatal("expected no-plan error")
	}
	if !strings.Contains(resultText(res), "memory_plan") {
		t.Errorf("expected hint, got: %s", resultText(res))
	}
}

func TestAppendTool_Numbered(t *testing.T) {
	svc := newTestService(t)
	call(t, NewPlanTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "P"})
	tool := NewAppendTool(svc)

	for i := 1; i <= 3; i++ {
		res := call(t, tool.Handle, map[string]interface{}{"task": "t1", "content": fmt.Sprintf("step %d", i)})
		if res.IsError {
			t.Fatalf("append %d: %s", i, resultText(res))
		}
		if !strings.Contains(resultText(res), fmt.Sprintf("#%d", i)) {
			t.Errorf("append %d: got %s", i, resultText(res))
		}
	}
}

func TestAppendTool_MissingContent(t *testing.T) {
	tool := NewAppendTool(newTestService(t))
	res := call(t, tool.Handle, map[string]interface{}{"task": "t1"})
	if !res.IsError {
		t.Fatal("expected error for missing content")
	}
}

// ─── StatusTool ──────────────────────────────────────────────────────────────

func TestStatusTool_Single(t *testing.T) {
	svc := newTestService(t)
	call(t, NewScratchpadTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "A"})

	res := call(t, NewStatusTool(svc).Handle, map[string]interface{}{"task": "t1"})
	text := resultText(res)
	if !strings.Contains(text, "DISCOVERY") {
		t.Errorf("expected DISCOVERY, got: %s", text)
	}
	if !strings.Contains(text, "✅ scratchpad") || !strings.Contains(text, "⬜ plan") {
		t.Errorf("artifact marks missing: %s", text)
	}
}

func TestStatusTool_All(t *testing.T) {
	svc := newTestService(t)
	tool := NewStatusTool(svc)

	res := call(t, tool.Handle, map[string]interface{}{})
	if !strings.Contains(resultText(res), "No tasks") {
		t.Errorf("got: %s", resultText(res))
	}

	call(t, NewScratchpadTool(svc).Handle, map[string]interface{}{"task": "a", "content": "A"})
	call(t, NewPlanTool(svc).Handle, map[string]interface{}{"task": "b", "content": "B"})

	res = call(t, tool.Handle, map[string]interface{}{"task": "*", "snapshot": true})
	text := resultText(res)
	if !strings.Contains(text, "| a | DISCOVERY |") || !strings.Contains(text, "| b | PLANNED |") {
		t.Errorf("unexpected table: %s", text)
	}
}

func TestStatusTool_UnknownSession(t *testing.T) {
	tool := NewStatusTool(newTestService(t))
	res := call(t, tool.Handle, map[string]interface{}{"task": "t1", "session_id": "nope"})
	if !res.IsError {
		t.Fatal("expected session not found")
	}
}

// ─── ExportTool ──────────────────────────────────────────────────────────────

func TestExportTool_Formats(t *testing.T) {
	svc := newTestService(t)
	call(t, NewScratchpadTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "A"})
	call(t, NewPlanTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "P"})
	call(t, NewAppendTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "did X"})
	tool := NewExportTool(svc)

	res := call(t, tool.Handle, map[string]interface{}{"task": "t1", "format": "json"})
	if !strings.Contains(resultText(res), `"phase": "EXECUTING"`) {
		t.Errorf("json export: %s", resultText(res))
	}
	res = call(t, tool.Handle, map[string]interface{}{"task": "t1"})
	if !strings.Contains(resultText(res), "# Task: t1") || !strings.Contains(resultText(res), "did X") {
		t.Errorf("text export: %s", resultText(res))
	}
	res = call(t, tool.Handle, map[string]interface{}{"task": "t1", "format": "xml"})
	if !res.IsError {
		t.Error("expected error for unknown format")
	}
	res = call(t, tool.Handle, map[string]interface{}{"task": "ghost"})
	if !res.IsError {
		t.Error("expected not found for unknown task")
	}
}

// ─── SessionTool ─────────────────────────────────────────────────────────────

func TestSessionTool_StartListSwitch(t *testing.T) {
	svc := newTestService(t)
	tool := NewSessionTool(svc)

	first, err := svc.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	res := call(t, tool.Handle, map[string]interface{}{"action": "start", "name": "feature"})
	if res.IsError {
		t.Fatalf("start: %s", resultText(res))
	}
	second, err := svc.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.SessionID == first.SessionID {
		t.Fatal("start should make a new session current")
	}

	res = call(t, tool.Handle, map[string]interface{}{"action": "list"})
	text := resultText(res)
	if !strings.Contains(text, first.SessionID) || !strings.Contains(text, "* "+second.SessionID) {
		t.Errorf("list: %s", text)
	}

	res = call(t, tool.Handle, map[string]interface{}{"action": "switch", "session_id": first.SessionID})
	if res.IsError {
		t.Fatalf("switch: %s", resultText(res))
	}
	now, _ := svc.Resolve(context.Background())
	if now.SessionID != first.SessionID {
		t.Errorf("current = %s, want %s", now.SessionID, first.SessionID)
	}
}

func TestSessionTool_Info(t *testing.T) {
	svc := newTestService(t)
	call(t, NewScratchpadTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "A"})

	res := call(t, NewSessionTool(svc).Handle, map[string]interface{}{})
	text := resultText(res)
	if !strings.Contains(text, "**Current**: true") || !strings.Contains(text, "- t1: DISCOVERY") {
		t.Errorf("info: %s", text)
	}
}

func TestSessionTool_Errors(t *testing.T) {
	tool := NewSessionTool(newTestService(t))
	if res := call(t, tool.Handle, map[string]interface{}{"action": "switch"}); !res.IsError {
		t.Error("switch without id should fail")
	}
	if res := call(t, tool.Handle, map[string]interface{}{"action": "switch", "session_id": "missing"}); !res.IsError {
		t.Error("switch to unknown session should fail")
	}
	if res := call(t, tool.Handle, map[string]interface{}{"action": "delete"}); !res.IsError {
		t.Error("unknown action should fail")
	}
}

// ─── CleanupTool / EventsTool ────────────────────────────────────────────────

func TestCleanupTool(t *testing.T) {
	tool := NewCleanupTool(newTestService(t), 30)

	res := call(t, tool.Handle, map[string]interface{}{})
	if res.IsError {
		t.Fatalf("cleanup: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "Sessions removed: 0") {
		t.Errorf("got: %s", resultText(res))
	}

	res = call(t, tool.Handle, map[string]interface{}{"max_age_days": float64(0)})
	if !res.IsError {
		t.Error("zero max age should be rejected")
	}
}

func TestEventsTool(t *testing.T) {
	svc := newTestService(t)
	call(t, NewAppendTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "early"})
	call(t, NewScratchpadTool(svc).Handle, map[string]interface{}{"task": "t1", "content": "A"})

	res := call(t, NewEventsTool(svc).Handle, map[string]interface{}{"task": "t1"})
	text := resultText(res)
	if !strings.Contains(text, "scratchpad_written") || !strings.Contains(text, "rejected") {
		t.Errorf("events: %s", text)
	}

	res = call(t, NewEventsTool(svc).Handle, map[string]interface{}{"kind": "rejected", "limit": float64(1)})
	if !strings.Contains(resultText(res), "(1)") {
		t.Errorf("limit: %s", resultText(res))
	}
}
