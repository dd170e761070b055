package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/drag88/claude-memory-system/internal/fileutil"
	"github.com/drag88/claude-memory-system/internal/layout"
)

const (
	filePermissions = 0o644
	planPermissions = 0o444
)

// For testing: tests replace these to control time and file access.
var (
	timeNow  = time.Now
	openFile = os.Open
)

// FileStore stores artifacts as markdown files under a storage root.
type FileStore struct {
	root     string
	logger   *slog.Logger
	preamble func(task, sessionID string) string
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgressPreamble sets the text written at the top of a new progress
// log, before the first entry.
func WithProgressPreamble(fn func(task, sessionID string) string) Option {
	return func(s *FileStore) { s.preamble = fn }
}

// New creates a FileStore rooted at root.
func New(root string, opts ...Option) *FileStore {
	s := &FileStore{root: root, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the storage root.
func (s *FileStore) Root() string { return s.root }

// Path returns the file path of an artifact.
func (s *FileStore) Path(sessionID, task string, kind Kind) string {
	return layout.ArtifactPath(s.root, sessionID, task, string(kind))
}

// Read returns an artifact or ErrNotFound.
func (s *FileStore) Read(ctx context.Context, sessionID, task string, kind Kind) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateTask(task); err != nil {
		return nil, err
	}
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}
	return s.read(sessionID, task, kind)
}

func (s *FileStore) read(sessionID, task string, kind Kind) (*Artifact, error) {
	f, err := openFile(s.Path(sessionID, task, kind))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s of task %q", ErrNotFound, kind, task)
		}
		return nil, fmt.Errorf("reading %s: %w", kind, err)
	}
	defer func() { _ = f.Close() }()

	// Metadata comes from the open descriptor, not the path.
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", kind, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", kind, err)
	}

	a := &Artifact{
		Task:      task,
		SessionID: sessionID,
		Kind:      kind,
		Content:   string(data),
		Size:      int64(len(data)),
		ModTime:   fi.ModTime(),
		ReadOnly:  fi.Mode().Perm()&0o222 == 0,
	}
	if kind == KindProgress {
		n, err := lastSeq(a.Content)
		if err != nil {
			return nil, fmt.Errorf("parsing progress of task %q: %w", task, err)
		}
		a.Entries = n
	}
	return a, nil
}

// Snapshot reads all three artifacts of a task.
func (s *FileStore) Snapshot(ctx context.Context, sessionID, task string) (Snapshot, error) {
	snap := Snapshot{Task: task, SessionID: sessionID}
	if err := ValidateTask(task); err != nil {
		return snap, err
	}
	for _, k := range Kinds {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		a, err := s.read(sessionID, task, k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return snap, err
		}
		switch k {
		case KindScratchpad:
			snap.Scratchpad = a
		case KindPlan:
			snap.Plan = a
		case KindProgress:
			snap.Progress = a
		}
	}
	return snap, nil
}

// Write stores content for an artifact according to mode:
//   - ModeOverwrite replaces any existing content;
//   - ModeCreateOnly fails with ErrAlreadyExists if content is present;
//   - ModeAppend adds a new progress entry (progress only).
//
// Every write goes through a temp file and an atomic rename.
func (s *FileStore) Write(ctx context.Context, sessionID, task string, kind Kind, content string, mode Mode) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateTask(task); err != nil {
		return nil, err
	}
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}
	if err := ValidateMode(mode); err != nil {
		return nil, err
	}

	perm := os.FileMode(filePermissions)
	if kind == KindPlan {
		perm = planPermissions
	}

	var data string
	switch mode {
	case ModeOverwrite:
		data = content

	case ModeCreateOnly:
		existing, err := s.read(sessionID, task, kind)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if existing.HasContent() {
			return nil, fmt.Errorf("%w: %s of task %q", ErrAlreadyExists, kind, task)
		}
		data = content

	case ModeAppend:
		if kind != KindProgress {
			return nil, fmt.Errorf("append is only supported for %s, not %s", KindProgress, kind)
		}
		next, err := s.appendEntry(sessionID, task, content)
		if err != nil {
			return nil, err
		}
		data = next
	}

	path := s.Path(sessionID, task, kind)
	if err := fileutil.WriteFileAtomic(path, []byte(data), perm); err != nil {
		return nil, fmt.Errorf("writing %s of task %q: %w", kind, task, err)
	}
	s.logger.Debug("Artifact written",
		slog.String("session", sessionID),
		slog.String("task", task),
		slog.String("kind", string(kind)),
		slog.String("mode", string(mode)),
		slog.Int("bytes", len(data)),
	)

	return s.read(sessionID, task, kind)
}

// appendEntry returns the progress log with a new entry for content added.
func (s *FileStore) appendEntry(sessionID, task, content string) (string, error) {
	if content == "" {
		return "", ErrEmptyEntry
	}

	var current string
	existing, err := s.read(sessionID, task, KindProgress)
	switch {
	case err == nil:
		current = existing.Content
	case errors.Is(err, ErrNotFound):
		if s.preamble != nil {
			current = s.preamble(task, sessionID)
		}
	default:
		return "", err
	}

	seq, err := lastSeq(current)
	if err != nil {
		return "", fmt.Errorf("parsing progress of task %q: %w", task, err)
	}
	if current != "" && current[len(current)-1] != '\n' {
		current += "\n"
	}
	return current + FormatEntry(Entry{Seq: seq + 1, At: timeNow().UTC(), Content: content}), nil
}

// ListTasks yields the distinct task names of a session in sorted order.
// The sequence can be ranged over more than once; each pass rescans.
func (s *FileStore) ListTasks(ctx context.Context, sessionID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		entries, err := os.ReadDir(layout.SessionPath(s.root, sessionID))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield("", fmt.Errorf("listing tasks: %w", err))
			return
		}

		seen := make(map[string]bool)
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			task, sid, kind, ok := layout.ParseArtifactName(e.Name())
			if !ok || sid != sessionID || ValidateKind(Kind(kind)) != nil {
				continue
			}
			if !seen[task] {
				seen[task] = true
				names = append(names, task)
			}
		}
		sort.Strings(names)

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(name, nil) {
				return
			}
		}
	}
}
