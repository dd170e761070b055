package cli

import (
	"fmt"
	"log/slog"

	"github.com/drag88/claude-memory-system/internal/server"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Long: `Serves the task memory to MCP clients over stdio. Add it to your AI tool's
MCP config:

  {
    "mcpServers": {
      "claude-memory": {
        "command": "claude-memory",
        "args": ["serve"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			s := server.New(svc, server.Options{CleanupMaxAgeDays: a.cfg.Cleanup.MaxAgeDays})
			a.logger.Info("MCP server starting", slog.String("root", svc.Root()))

			stdio := mcpserver.NewStdioServer(s)
			stdio.SetErrorLogger(slog.NewLogLogger(a.logger.Handler(), slog.LevelError))
			if err := stdio.Listen(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("serving stdio: %w", err)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skips configuration loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "claude-memory v%s\n", server.Version)
		},
	}
}
