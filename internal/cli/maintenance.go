package cli

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/drag88/claude-memory-system/internal/journal"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newCleanupCmd(a *app) *cobra.Command {
	var maxAge int
	var yes bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old sessions and reclaim stale locks",
		Long: `Reclaims stale task locks in every session, then removes sessions not
updated within --max-age days. The current session and sessions with a held
lock are kept. Old journal events are pruned too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy := a.cfg.Cleanup
			if cmd.Flags().Changed("max-age") {
				policy.MaxAgeDays = maxAge
			}
			if policy.MaxAgeDays < 1 {
				return fmt.Errorf("--max-age must be at least 1, got %d", policy.MaxAgeDays)
			}
			out := cmd.OutOrStdout()
			if !yes {
				fmt.Fprintf(out, "Clean up sessions older than %d days? [y/N] ", policy.MaxAgeDays)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if ans := strings.ToLower(strings.TrimSpace(answer)); ans != "y" && ans != "yes" {
					fmt.Fprintln(out, "Cleanup cancelled")
					return nil
				}
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			report, err := svc.Cleanup(cmd.Context(), policy.MaxAge())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Cleaned up %d sessions, reclaimed %d stale locks, pruned %d events\n",
				styleOK.Render("✓"), len(report.RemovedSessions), len(report.ReclaimedLocks), report.PrunedEvents)
			for _, id := range report.RemovedSessions {
				fmt.Fprintf(out, "  - session %s\n", id)
			}
			for _, rc := range report.ReclaimedLocks {
				fmt.Fprintf(out, "  - lock %s (pid %d on %s)\n", rc.Key, rc.Previous.PID, rc.Previous.Hostname)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAge, "max-age", 30, "maximum session age in days")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newEventsCmd(a *app) *cobra.Command {
	var f journal.Filter
	var kind string
	var asJSON, summary bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent journal events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if summary {
				counts, err := svc.EventCounts(cmd.Context())
				if err != nil {
					return err
				}
				return printEventCounts(out, counts, asJSON)
			}

			f.SessionID = a.sessionID
			f.Kind = journal.Kind(kind)
			events, err := svc.Events(cmd.Context(), f)
			if err != nil {
				return err
			}

			if asJSON {
				if events == nil {
					events = []journal.Event{}
				}
				return writeJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, styleDim.Render("No events recorded"))
				return nil
			}
			t := newTable(out)
			t.AppendHeader(table.Row{"#", "At", "Kind", "Task", "Phase", "PID", "Detail"})
			for _, e := range events {
				t.AppendRow(table.Row{e.ID, e.At.Local().Format("2006-01-02 15:04:05.000"), e.Kind, e.Task, e.Phase, e.PID, e.Detail})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Task, "task", "", "only events of this task")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", journal.DefaultLimit, "maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&summary, "summary", false, "count events per kind across all sessions")
	return cmd
}

func printEventCounts(w io.Writer, counts map[journal.Kind]int, asJSON bool) error {
	if asJSON {
		return writeJSON(w, counts)
	}
	if len(counts) == 0 {
		fmt.Fprintln(w, styleDim.Render("No events recorded"))
		return nil
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Kind", "Events"})
	total := 0
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		t.AppendRow(table.Row{k, counts[k]})
		total += counts[k]
	}
	t.AppendFooter(table.Row{"Total", total})
	t.Render()
	return nil
}
