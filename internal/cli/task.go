package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// readContent returns s, or all of stdin when s is "-".
func readContent(cmd *cobra.Command, s string) (string, error) {
	if s != "-" {
		return s, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the storage root and a current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, scope, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Memory storage at %s (%s)\n", styleOK.Render("✓"), svc.Root(), a.loc.Source)
			fmt.Fprintf(out, "%s Current session: %s\n", styleOK.Render("✓"), scope.SessionID)
			fmt.Fprintf(out, "\nUse %s to see available commands.\n", styleTitle.Render("claude-memory --help"))
			return nil
		},
	}
}

func newScratchpadCmd(a *app) *cobra.Command {
	var content string
	var show bool
	cmd := &cobra.Command{
		Use:   "scratchpad <task>",
		Short: "Create or update the discovery scratchpad of a task",
		Long: `Writes the scratchpad of a task. Without --content a missing scratchpad is
created from the template and an existing one is left untouched. Rejected
once the task has a plan.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, scope, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			body, err := readContent(cmd, content)
			if err != nil {
				return err
			}
			res, err := svc.Scratchpad(cmd.Context(), scope, args[0], body)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), "Scratchpad saved for", res)
			if show {
				printContent(cmd.OutOrStdout(), "Scratchpad: "+res.Task, res.Artifact.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&content, "content", "c", "", `scratchpad content ("-" reads stdin)`)
	cmd.Flags().BoolVarP(&show, "show", "s", false, "print the scratchpad afterwards")
	return cmd
}

func newPlanCmd(a *app) *cobra.Command {
	var content string
	var show bool
	cmd := &cobra.Command{
		Use:   "plan <task>",
		Short: "Create the implementation plan of a task (write-once)",
		Long: `Writes the plan of a task. The plan can be written exactly once and is
read-only afterwards. Without --content the plan template is written, which
locks the plan just the same.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, scope, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			body, err := readContent(cmd, content)
			if err != nil {
				return err
			}
			res, err := svc.Plan(cmd.Context(), scope, args[0], body)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), "Plan locked for", res)
			if show {
				printContent(cmd.OutOrStdout(), "Plan: "+res.Task, res.Artifact.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&content, "content", "c", "", `plan content ("-" reads stdin)`)
	cmd.Flags().BoolVarP(&show, "show", "s", false, "print the plan afterwards")
	return cmd
}

func newAppendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "append <task> <text...>",
		Short: "Append a progress entry to a task",
		Long:  `Appends one progress entry. The words after the task name form the entry; "-" reads it from stdin.`,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, scope, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			body, err := readContent(cmd, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			res, err := svc.Append(cmd.Context(), scope, args[0], body)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), fmt.Sprintf("Entry #%d appended to", res.Entries), res)
			return nil
		},
	}
}
