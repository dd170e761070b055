// Package prompts implements MCP prompt handlers for the task-memory
// workflow.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the memory-start MCP prompt.
// It walks the AI through discovery, planning and execution of one task.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("memory-start",
		mcp.WithPromptDescription(
			"Start working on a task with persistent memory. "+
				"Records discovery notes first, locks a plan, then logs progress step by step.",
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("Name of the task, e.g. auth-refactor"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the memory-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	task := req.Params.Arguments["task"]
	if task == "" {
		return nil, fmt.Errorf("argument 'task' is required")
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start task: %s", task),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to work on the task '%s' using task memory.\n\n"+
						"Please:\n"+
						"1. Run `memory_status` with task='%s' to see where it stands\n"+
						"2. If it is in DISCOVERY, explore the code and keep your findings in `memory_scratchpad`\n"+
						"3. When the approach is clear, write the plan once with `memory_plan`. It cannot be changed afterwards, so make it complete\n"+
						"4. While executing, log every meaningful step with `memory_append`\n"+
						"5. If an operation is rejected, read the hint and follow the phase order instead of retrying",
					task, task,
				)),
			},
		},
	}, nil
}
