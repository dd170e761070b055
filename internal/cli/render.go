package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/drag88/claude-memory-system/internal/memory"
	"github.com/drag88/claude-memory-system/internal/workflow"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleDim   = lipgloss.NewStyle().Faint(true)
	styleTitle = lipgloss.NewStyle().Bold(true)

	phaseStyles = map[workflow.Phase]lipgloss.Style{
		workflow.PhaseDiscovery: lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		workflow.PhasePlanned:   lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		workflow.PhaseExecuting: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
	}
)

func renderPhase(p workflow.Phase) string {
	if s, ok := phaseStyles[p]; ok {
		return s.Render(string(p))
	}
	return string(p)
}

func check(ok bool) string {
	if ok {
		return styleOK.Render("✓")
	}
	return styleDim.Render("✗")
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// printResult reports a successful mutating operation.
func printResult(w io.Writer, verb string, res *memory.Result) {
	fmt.Fprintf(w, "%s %s %q (%s → %s)\n", styleOK.Render("✓"), verb, res.Task,
		renderPhase(res.From), renderPhase(res.To))
	fmt.Fprintf(w, "  %s\n", styleDim.Render(res.Path))
	if res.Reclaimed != nil {
		fmt.Fprintf(w, "  %s reclaimed stale lock of pid %d on %s (age %s)\n", styleWarn.Render("!"),
			res.Reclaimed.Previous.PID, res.Reclaimed.Previous.Hostname, res.Reclaimed.Age.Round(time.Second))
	}
	if res.NextStep != "" {
		fmt.Fprintf(w, "  Next: %s\n", res.NextStep)
	}
}

// printContent shows an artifact body under a title rule.
func printContent(w io.Writer, title, content string) {
	fmt.Fprintf(w, "\n%s\n%s\n%s\n", styleTitle.Render(title), strings.Repeat("─", 40), strings.TrimRight(content, "\n"))
}

func printStatus(w io.Writer, st *memory.Status) {
	fmt.Fprintf(w, "%s %s\n", styleTitle.Render("Task:"), st.Task)
	fmt.Fprintf(w, "%s %s\n", styleTitle.Render("Session:"), st.SessionID)
	fmt.Fprintf(w, "%s %s\n", styleTitle.Render("Phase:"), renderPhase(st.Phase))
	if h := st.LockedBy; h != nil {
		fmt.Fprintf(w, "%s locked by pid %d on %s since %s\n", styleWarn.Render("!"),
			h.PID, h.Hostname, h.Since.Local().Format("2006-01-02 15:04:05"))
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Artifact", "", "Size", "Modified", "SHA-256"})
	for _, a := range st.Artifacts {
		row := table.Row{a.Kind, check(a.Present), "", "", ""}
		if a.Present {
			size := fmt.Sprintf("%d B", a.Size)
			if a.ReadOnly {
				size += " (ro)"
			}
			row[2] = size
			row[3] = a.ModTime.Local().Format("2006-01-02 15:04:05")
			row[4] = a.Digest[:12]
		}
		t.AppendRow(row)
	}
	t.Render()

	fmt.Fprintf(w, "Progress entries: %d\n", st.ProgressEntries)
	if len(st.Allowed) > 0 {
		ops := lo.Map(st.Allowed, func(op workflow.Op, _ int) string { return string(op) })
		fmt.Fprintf(w, "Allowed: %s\n", strings.Join(ops, ", "))
	}
	fmt.Fprintf(w, "Next: %s\n", st.NextStep)
	for _, issue := range st.Issues {
		fmt.Fprintf(w, "%s %s\n", styleWarn.Render("⚠"), issue)
	}
}

func printStatusList(w io.Writer, sessionID string, all []*memory.Status) {
	if len(all) == 0 {
		fmt.Fprintln(w, styleWarn.Render("No tasks found in session "+sessionID))
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Task", "Phase", "Files", "Entries", "Issues"})
	for _, st := range all {
		files := lo.Map(st.Artifacts, func(a memory.ArtifactStatus, _ int) string {
			return check(a.Present) + " " + string(a.Kind)
		})
		issues := ""
		if len(st.Issues) > 0 {
			issues = styleWarn.Render(fmt.Sprintf("%d", len(st.Issues)))
		}
		t.AppendRow(table.Row{st.Task, renderPhase(st.Phase), strings.Join(files, " "), st.ProgressEntries, issues})
	}
	t.Render()
	fmt.Fprintln(w, styleDim.Render(fmt.Sprintf("Session: %s | Total tasks: %d", sessionID, len(all))))
}
