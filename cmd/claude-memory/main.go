// claude-memory: persistent task memory for cooperating coding agents.
//
// Usage:
//
//	claude-memory scratchpad <task> -c "notes"   # discovery notes
//	claude-memory plan <task> -c "steps"         # write-once plan
//	claude-memory append <task> "did X"          # progress log
//	claude-memory status [task|*]                # phase and next step
//	claude-memory serve                          # MCP server (stdio)
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/drag88/claude-memory-system/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
