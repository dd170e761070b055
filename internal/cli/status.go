package cli

import (
	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var opts memory.StatusOptions
	var asJSON, asYAML bool
	cmd := &cobra.Command{
		Use:   "status [task|*]",
		Short: "Show the phase and artifacts of a task, or of all tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, scope, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			task := store.AllTasks
			if len(args) == 1 {
				task = args[0]
			}
			if task == store.AllTasks {
				all, err := svc.StatusAll(cmd.Context(), scope, opts)
				if err != nil {
					return err
				}
				if all == nil {
					all = []*memory.Status{}
				}
				switch {
				case asJSON:
					return writeJSON(out, all)
				case asYAML:
					return writeYAML(out, all)
				}
				printStatusList(out, scope.SessionID, all)
				return nil
			}

			st, err := svc.Status(cmd.Context(), scope, task, opts)
			if err != nil {
				return err
			}
			switch {
			case asJSON:
				return writeJSON(out, st)
			case asYAML:
				return writeYAML(out, st)
			}
			printStatus(out, st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "read without waiting for the task lock")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}
