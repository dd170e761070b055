package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the memory-status MCP prompt.
// It instructs the AI to read and present the state of the session's tasks.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("memory-status",
		mcp.WithPromptDescription(
			"Check the state of your tasks: phase of each task, integrity issues "+
				"and what to do next.",
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("Limit the report to one task. Default: all tasks"),
		),
	)
}

// Handle processes the memory-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	task := req.Params.Arguments["task"]
	if task == "" {
		task = "*"
	}

	return &mcp.GetPromptResult{
		Description: "Task memory status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please run `memory_status` with task='%s' to check my task memory.\n\n"+
						"Then:\n"+
						"1. Show me each task with its phase in a clear, compact format\n"+
						"2. Highlight any integrity issues\n"+
						"3. Tell me exactly what I should do next\n"+
						"4. For tasks in EXECUTING, summarize the latest progress entries using `memory_export`",
					task,
				)),
			},
		},
	}, nil
}
