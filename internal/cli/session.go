package cli

import (
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/drag88/claude-memory-system/internal/session"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}
	cmd.AddCommand(
		newSessionStartCmd(a),
		newSessionInfoCmd(a),
		newSessionListCmd(a),
		newSessionSwitchCmd(a),
	)
	return cmd
}

func newSessionStartCmd(a *app) *cobra.Command {
	var meta []string
	cmd := &cobra.Command{
		Use:   "start [name]",
		Short: "Start a new session and make it current",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			name := session.DefaultName
			if len(args) == 1 {
				name = args[0]
			}
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			sess, err := svc.StartSession(cmd.Context(), name, metadata)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Started session %s (%s)\n", styleOK.Render("✓"), sess.ID, sess.Name)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata as key=value (repeatable)")
	return cmd
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q: want key=value", p)
		}
		m[k] = v
	}
	return m, nil
}

func newSessionInfoCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the current session (or --session) and its tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, scope, err := a.scope(cmd.Context())
			if err != nil {
				return err
			}
			info, err := svc.SessionInfo(cmd.Context(), scope)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, info)
			}

			t := newTable(out)
			t.SetTitle("Session Information")
			t.AppendRows([]table.Row{
				{"Session ID", info.Session.ID},
				{"Name", info.Session.Name},
				{"Current", info.Current},
				{"Storage Path", info.Stats.StoragePath},
				{"Project Path", info.Session.ProjectPath},
				{"Created", info.Session.CreatedAt.Local().Format("2006-01-02 15:04:05")},
				{"Updated", info.Session.UpdatedAt.Local().Format("2006-01-02 15:04:05")},
				{"Tasks", len(info.Tasks)},
				{"Sessions (active/total)", fmt.Sprintf("%d/%d", info.Stats.Active, info.Stats.Total)},
			})
			for _, k := range slices.Sorted(maps.Keys(info.Session.Metadata)) {
				t.AppendRow(table.Row{"meta." + k, info.Session.Metadata[k]})
			}
			t.Render()
			if len(info.Tasks) > 0 {
				printStatusList(out, info.Session.ID, info.Tasks)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newSessionListCmd(a *app) *cobra.Command {
	var asJSON bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			current, err := svc.Sessions().CurrentID()
			if err != nil {
				return err
			}

			var sessions []*session.Session
			for sess, err := range svc.ListSessions(cmd.Context()) {
				if err != nil {
					a.logger.Warn("Skipping unreadable session", slog.Any("error", err))
					continue
				}
				sessions = append(sessions, sess)
			}
			if limit > 0 && len(sessions) > limit {
				sessions = sessions[len(sessions)-limit:]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if sessions == nil {
					sessions = []*session.Session{}
				}
				return writeJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, styleWarn.Render("No sessions yet"))
				return nil
			}
			t := newTable(out)
			t.AppendHeader(table.Row{"", "Session ID", "Name", "Project", "Updated"})
			for _, s := range sessions {
				marker := ""
				if s.ID == current {
					marker = styleOK.Render("*")
				}
				project := ""
				if s.ProjectPath != "" {
					project = filepath.Base(s.ProjectPath)
				}
				t.AppendRow(table.Row{marker, s.ID, s.Name, project, s.UpdatedAt.Local().Format("2006-01-02 15:04:05")})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "show only the most recent N sessions")
	return cmd
}

func newSessionSwitchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <id>",
		Short: "Make another session current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			sess, err := svc.SwitchSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Switched to session %s\n", styleOK.Render("✓"), sess.ID)
			return nil
		},
	}
}
