package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/drag88/claude-memory-system/internal/journal"
	"github.com/drag88/claude-memory-system/internal/layout"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/drag88/claude-memory-system/internal/workflow"
	"gopkg.in/yaml.v3"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ParseFormat validates a format name. "yml" and "md" are accepted as
// aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "text", "txt", "md", "markdown":
		return FormatText, nil
	}
	return "", fmt.Errorf("unsupported format %q: must be one of: json, yaml, text", s)
}

// DocumentVersion is the version written into exported documents.
const DocumentVersion = 1

// Document is the structured export of one task.
type Document struct {
	Version          int            `json:"version" yaml:"version"`
	Task             string         `json:"task" yaml:"task"`
	SessionID        string         `json:"session_id" yaml:"session_id"`
	Phase            workflow.Phase `json:"phase" yaml:"phase"`
	Scratchpad       *string        `json:"scratchpad" yaml:"scratchpad"`
	Plan             *string        `json:"plan" yaml:"plan"`
	ProgressPreamble string         `json:"progress_preamble,omitempty" yaml:"progress_preamble,omitempty"`
	Progress         []store.Entry  `json:"progress" yaml:"progress"`
}

// Export serializes a task's artifacts and phase. It fails with
// store.ErrNotFound if the task has no artifacts. Export is read-only and
// produces the same bytes for the same disk state.
func (s *Service) Export(ctx context.Context, scope Scope, task string, format Format) ([]byte, error) {
	doc, err := s.Document(ctx, scope, task)
	if err != nil {
		return nil, err
	}
	return EncodeDocument(doc, format)
}

// Document builds the export document of a task from a locked snapshot.
func (s *Service) Document(ctx context.Context, scope Scope, task string) (*Document, error) {
	if err := store.ValidateTask(task); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Get(ctx, scope.SessionID); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, scope, task, true)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, fmt.Errorf("%w: task %q in session %s", store.ErrNotFound, task, scope.SessionID)
	}

	doc := &Document{
		Version:   DocumentVersion,
		Task:      task,
		SessionID: scope.SessionID,
		Phase:     workflow.PhaseOf(workflow.StateOf(snap)),
		Progress:  []store.Entry{},
	}
	if snap.Scratchpad != nil {
		doc.Scratchpad = &snap.Scratchpad.Content
	}
	if snap.Plan != nil {
		doc.Plan = &snap.Plan.Content
	}
	if snap.Progress != nil {
		preamble, entries, err := store.ParseProgress(snap.Progress.Content)
		if err != nil {
			return nil, fmt.Errorf("parsing progress of task %q: %w", task, err)
		}
		doc.ProgressPreamble = preamble
		if entries != nil {
			doc.Progress = entries
		}
	}
	return doc, nil
}

// EncodeDocument renders doc in format.
func EncodeDocument(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatText:
		return []byte(renderText(doc)), nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// ParseDocument decodes a json or yaml export.
func ParseDocument(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("format %q cannot be imported", format)
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("unsupported document version %d", doc.Version)
	}
	if err := store.ValidateTask(doc.Task); err != nil {
		return nil, err
	}
	if err := checkProgress(doc.ProgressPreamble, doc.Progress); err != nil {
		return nil, err
	}
	return &doc, nil
}

// checkProgress rejects progress that would not read back as exactly the
// same preamble and entries once written as a log.
func checkProgress(preamble string, entries []store.Entry) error {
	for i, e := range entries {
		if e.Seq != i+1 {
			return fmt.Errorf("progress entry %d has sequence %d", i+1, e.Seq)
		}
	}
	gotPreamble, got, err := store.ParseProgress(store.FormatProgress(preamble, entries))
	if err != nil {
		return fmt.Errorf("progress preamble is not a valid log prefix: %w", err)
	}
	if gotPreamble != preamble || len(got) != len(entries) {
		return fmt.Errorf("progress preamble must end with a newline and must not contain entry headers")
	}
	for i := range got {
		if got[i].Content != entries[i].Content || !got[i].At.Equal(entries[i].At) {
			return fmt.Errorf("progress entry %d does not survive encoding", i+1)
		}
	}
	return nil
}

// Import recreates an exported task in the session in scope. The task must
// not exist there yet. Progress entries keep their sequence numbers,
// timestamps and content.
func (s *Service) Import(ctx context.Context, scope Scope, doc *Document) (*Status, error) {
	if err := store.ValidateTask(doc.Task); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Get(ctx, scope.SessionID); err != nil {
		return nil, err
	}
	hasPlan := doc.Plan != nil && strings.TrimSpace(*doc.Plan) != ""
	if len(doc.Progress) > 0 && !hasPlan {
		return nil, fmt.Errorf("%w: document for task %q has progress but no plan", workflow.ErrNoPlanYet, doc.Task)
	}
	if err := checkProgress(doc.ProgressPreamble, doc.Progress); err != nil {
		return nil, fmt.Errorf("importing task %q: %w", doc.Task, err)
	}

	lk, err := s.locker.Acquire(ctx, layout.LockKey(scope.SessionID, doc.Task), s.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			s.logger.Warn("Failed to release lock", slog.String("task", doc.Task), slog.Any("error", err))
		}
	}()

	snap, err := s.store.Snapshot(ctx, scope.SessionID, doc.Task)
	if err != nil {
		return nil, err
	}
	if snap.Exists() {
		return nil, fmt.Errorf("%w: task %q in session %s", store.ErrAlreadyExists, doc.Task, scope.SessionID)
	}

	if doc.Scratchpad != nil {
		if _, err := s.store.Write(ctx, scope.SessionID, doc.Task, store.KindScratchpad, *doc.Scratchpad, store.ModeOverwrite); err != nil {
			return nil, err
		}
	}
	if doc.Plan != nil {
		if _, err := s.store.Write(ctx, scope.SessionID, doc.Task, store.KindPlan, *doc.Plan, store.ModeCreateOnly); err != nil {
			return nil, err
		}
	}
	if len(doc.Progress) > 0 || doc.ProgressPreamble != "" {
		log := store.FormatProgress(doc.ProgressPreamble, doc.Progress)
		if _, err := s.store.Write(ctx, scope.SessionID, doc.Task, store.KindProgress, log, store.ModeOverwrite); err != nil {
			return nil, err
		}
	}

	snap, err = s.store.Snapshot(ctx, scope.SessionID, doc.Task)
	if err != nil {
		return nil, err
	}
	st := buildStatus(snap)
	s.record(ctx, journal.Event{
		Kind: journal.KindTaskImported, SessionID: scope.SessionID, Task: doc.Task,
		Phase: string(st.Phase), Detail: "from session " + doc.SessionID,
	})
	return st, nil
}

func renderText(doc *Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n", doc.Task)
	fmt.Fprintf(&b, "- Session: %s\n", doc.SessionID)
	fmt.Fprintf(&b, "- Phase: %s\n", doc.Phase)
	fmt.Fprintf(&b, "- Progress entries: %d\n", len(doc.Progress))

	section := func(title string, body *string) {
		fmt.Fprintf(&b, "\n---\n\n## %s\n\n", title)
		if body == nil {
			b.WriteString("_(none)_\n")
			return
		}
		b.WriteString(strings.TrimRight(*body, "\n"))
		b.WriteString("\n")
	}
	section("Scratchpad", doc.Scratchpad)
	section("Plan", doc.Plan)

	b.WriteString("\n---\n\n## Progress\n")
	if len(doc.Progress) == 0 {
		b.WriteString("\n_(none)_\n")
	}
	for _, e := range doc.Progress {
		fmt.Fprintf(&b, "\n### #%d - %s\n\n%s\n", e.Seq, e.At.UTC().Format("2006-01-02 15:04:05"), strings.TrimRight(e.Content, "\n"))
	}
	return b.String()
}
