package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drag88/claude-memory-system/internal/fileutil"
	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <task>",
		Short: "Export all artifacts of a task as one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := memory.ParseFormat(format)
			if err != nil {
				return err
			}
			svc, scope, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			data, err := svc.Export(cmd.Context(), scope, args[0], f)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := fileutil.WriteFileAtomic(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %q to %s\n", styleOK.Render("✓"), args[0], output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json, yaml or text")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Recreate an exported task in the current session",
		Long: `Reads a json or yaml export and recreates the task with its scratchpad,
plan and progress entries. The task must not exist in the target session.
The format is taken from the file extension unless --format is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("reading document: %w", err)
			}

			name := format
			if name == "" {
				name = strings.TrimPrefix(filepath.Ext(args[0]), ".")
			}
			f, err := memory.ParseFormat(name)
			if err != nil {
				return err
			}
			doc, err := memory.ParseDocument(data, f)
			if err != nil {
				return err
			}

			svc, scope, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			st, err := svc.Import(cmd.Context(), scope, doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Imported %q into session %s (%s, %d progress entries)\n",
				styleOK.Render("✓"), st.Task, st.SessionID, renderPhase(st.Phase), st.ProgressEntries)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "input format: json or yaml")
	return cmd
}
