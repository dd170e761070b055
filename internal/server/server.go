// Package server wires the MCP components and creates the server instance.
//
// It is a composition root: the memory service is built by the caller and
// injected into the tools, prompts and resources. No business logic lives
// here, only wiring.
package server

import (
	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/drag88/claude-memory-system/internal/memtools"
	"github.com/drag88/claude-memory-system/internal/prompts"
	"github.com/drag88/claude-memory-system/internal/resources"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Name is the server name announced to MCP clients.
const Name = "claude-memory"

// Options tunes the server.
type Options struct {
	// CleanupMaxAgeDays is the default age for memory_cleanup.
	CleanupMaxAgeDays int
}

// New creates the MCP server with all tools, prompts and resources
// registered against svc.
func New(svc *memory.Service, opts Options) *server.MCPServer {
	if opts.CleanupMaxAgeDays < 1 {
		opts.CleanupMaxAgeDays = 30
	}

	s := server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerTools(s, svc, opts)

	// --- Register prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(svc)
	s.AddResource(resourceHandler.SessionResource(), resourceHandler.HandleSession)
	s.AddResourceTemplate(resourceHandler.TaskTemplate(), resourceHandler.HandleTask)

	return s
}

// registerTools registers the memory MCP tools with the server.
func registerTools(s *server.MCPServer, svc *memory.Service, opts Options) {
	// --- Workflow ---
	scratchpad := memtools.NewScratchpadTool(svc)
	s.AddTool(scratchpad.Definition(), scratchpad.Handle)

	plan := memtools.NewPlanTool(svc)
	s.AddTool(plan.Definition(), plan.Handle)

	appendTool := memtools.NewAppendTool(svc)
	s.AddTool(appendTool.Definition(), appendTool.Handle)

	// --- Query ---
	status := memtools.NewStatusTool(svc)
	s.AddTool(status.Definition(), status.Handle)

	export := memtools.NewExportTool(svc)
	s.AddTool(export.Definition(), export.Handle)

	events := memtools.NewEventsTool(svc)
	s.AddTool(events.Definition(), events.Handle)

	// --- Management ---
	sessionTool := memtools.NewSessionTool(svc)
	s.AddTool(sessionTool.Definition(), sessionTool.Handle)

	cleanup := memtools.NewCleanupTool(svc, opts.CleanupMaxAgeDays)
	s.AddTool(cleanup.Definition(), cleanup.Handle)
}

// serverInstructions tells the AI how to use task memory.
func serverInstructions() string {
	return `You have access to claude-memory, a persistent task memory.

## HOW IT WORKS

Every task moves through three phases, in order:

1. DISCOVERY: explore and keep notes with memory_scratchpad. You may rewrite the scratchpad freely.
2. PLANNED: write the plan ONCE with memory_plan. After that the plan is read-only and the scratchpad is frozen.
3. EXECUTING: log every meaningful step with memory_append. Entries are numbered and never edited.

Going backwards is not possible. If the plan turns out wrong, record the change of direction in the progress log.

## RULES

- Call memory_status before resuming a task. It tells you the phase and the next step.
- Several agents may work at the same time. Each task is locked while one agent writes to it; a lock timeout means someone else is busy with that task.
- A rejected operation comes with a hint. Follow it instead of retrying the same call.
- Tasks live in the current session. Use memory_session to inspect or switch sessions.`
}
