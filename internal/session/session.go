// Package session manages the sessions that scope task artifacts.
//
// A session is a directory under <root>/sessions holding a JSON metadata
// record. The "current" session is a pointer file at the storage root,
// replaced with an atomic rename. It is resolved once per invocation;
// concurrent switches are last-writer-wins.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/drag88/claude-memory-system/internal/fileutil"
	"github.com/drag88/claude-memory-system/internal/layout"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id has no record.
var ErrSessionNotFound = errors.New("session not found")

// DefaultName is the name given to sessions created implicitly.
const DefaultName = "default"

const filePermissions = 0o644

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Session is the persisted metadata of a session.
type Session struct {
	ID          string            `json:"session_id" yaml:"session_id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	ProjectPath string            `json:"project_path,omitempty" yaml:"project_path,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Manager creates, loads and switches sessions under a storage root.
type Manager struct {
	root        string
	projectPath string
	logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithProjectPath records the project directory on new sessions.
func WithProjectPath(p string) Option {
	return func(m *Manager) { m.projectPath = p }
}

// NewManager creates a Manager rooted at root.
func NewManager(root string, opts ...Option) *Manager {
	m := &Manager{root: root, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the storage root.
func (m *Manager) Root() string { return m.root }

// Current returns the current session, creating and selecting a default
// one if the pointer is missing or points at a deleted session.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	id, err := m.CurrentID()
	if err != nil {
		return nil, err
	}
	if id != "" {
		s, err := m.Get(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		m.logger.Warn("Current session pointer is dangling, starting a new session",
			slog.String("session", id))
	}
	return m.Start(ctx, DefaultName, nil)
}

// CurrentID returns the id stored in the pointer, or "" if there is none.
func (m *Manager) CurrentID() (string, error) {
	data, err := os.ReadFile(layout.CurrentPath(m.root))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading current session: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Start creates a session and makes it current.
func (m *Manager) Start(ctx context.Context, name string, metadata map[string]string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	now := timeNow().UTC()
	s := &Session{
		ID:          id.String(),
		Name:        name,
		ProjectPath: m.projectPath,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    metadata,
	}
	if err := m.save(s); err != nil {
		return nil, err
	}
	if err := m.setCurrent(s.ID); err != nil {
		return nil, err
	}
	m.logger.Info("Session started", slog.String("session", s.ID), slog.String("name", name))
	return s, nil
}

// Switch makes an existing session current.
func (m *Manager) Switch(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.setCurrent(s.ID); err != nil {
		return nil, err
	}
	m.logger.Info("Session switched", slog.String("session", s.ID))
	return s, nil
}

// Get loads a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	data, err := os.ReadFile(layout.SessionFilePath(m.root, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("reading session %q: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing session %q: %w", id, err)
	}
	if s.ID == "" {
		s.ID = id
	}
	return &s, nil
}

// Touch bumps the UpdatedAt time of a session.
func (m *Manager) Touch(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	s.UpdatedAt = timeNow().UTC()
	return m.save(s)
}

// List yields sessions ordered by creation time. Ids are UUIDv7, so name
// order is creation order. Records are read one at a time as the sequence
// is consumed, and the sequence may be ranged over again.
func (m *Manager) List(ctx context.Context) iter.Seq2[*Session, error] {
	return func(yield func(*Session, error) bool) {
		ids, err := m.ids()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range ids {
			s, err := m.Get(ctx, id)
			if errors.Is(err, ErrSessionNotFound) {
				// Removed since the directory was read.
				continue
			}
			if !yield(s, err) {
				return
			}
			if err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}

func (m *Manager) ids() ([]string, error) {
	entries, err := os.ReadDir(layout.SessionsPath(m.root))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && validID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Cleanup removes sessions not updated since olderThan ago. The current
// session and any session for which keep returns true are left alone.
// Sessions with unreadable metadata are removed as corrupted.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration, keep func(id string) bool) ([]string, error) {
	current, err := m.CurrentID()
	if err != nil {
		return nil, err
	}
	ids, err := m.ids()
	if err != nil {
		return nil, err
	}

	cutoff := timeNow().Add(-olderThan)
	var removed []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if id == current || (keep != nil && keep(id)) {
			continue
		}
		s, err := m.Get(ctx, id)
		switch {
		case err == nil && !s.UpdatedAt.Before(cutoff):
			continue
		case err != nil && errors.Is(err, ErrSessionNotFound):
			// Directory without a record: leftover of an interrupted start,
			// or a start still in flight.
			fi, statErr := os.Stat(layout.SessionPath(m.root, id))
			if statErr != nil || fi.ModTime().After(cutoff) {
				continue
			}
		case err != nil:
			m.logger.Warn("Removing unreadable session", slog.String("session", id), slog.Any("error", err))
		}
		if err := os.RemoveAll(layout.SessionPath(m.root, id)); err != nil {
			return removed, fmt.Errorf("removing session %q: %w", id, err)
		}
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		m.logger.Info("Removed old sessions", slog.Int("count", len(removed)))
	}
	return removed, nil
}

// Stats summarizes the sessions under the root.
type Stats struct {
	Total          int    `json:"total_sessions" yaml:"total_sessions"`
	Active         int    `json:"active_sessions" yaml:"active_sessions"`
	CurrentID      string `json:"current_session,omitempty" yaml:"current_session,omitempty"`
	UniqueProjects int    `json:"unique_projects" yaml:"unique_projects"`
	StoragePath    string `json:"storage_path" yaml:"storage_path"`
}

// ActiveWindow is how recently a session must have been updated to count
// as active.
const ActiveWindow = 24 * time.Hour

// Stats counts sessions and projects.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	st := Stats{StoragePath: m.root}
	current, err := m.CurrentID()
	if err != nil {
		return st, err
	}
	st.CurrentID = current

	projects := make(map[string]bool)
	cutoff := timeNow().Add(-ActiveWindow)
	for s, err := range m.List(ctx) {
		if err != nil {
			return st, err
		}
		st.Total++
		if s.UpdatedAt.After(cutoff) {
			st.Active++
		}
		if s.ProjectPath != "" {
			projects[s.ProjectPath] = true
		}
	}
	st.UniqueProjects = len(projects)
	return st, nil
}

func (m *Manager) save(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := fileutil.WriteFileAtomic(layout.SessionFilePath(m.root, s.ID), data, filePermissions); err != nil {
		return fmt.Errorf("writing session %q: %w", s.ID, err)
	}
	return nil
}

func (m *Manager) setCurrent(id string) error {
	if err := fileutil.WriteFileAtomic(layout.CurrentPath(m.root), []byte(id+"\n"), filePermissions); err != nil {
		return fmt.Errorf("writing current session: %w", err)
	}
	return nil
}

// validID rejects ids that could escape the sessions directory or break
// artifact file names.
func validID(id string) bool {
	if id == "" || len(id) > layout.MaxSessionIDLen {
		return false
	}
	return !strings.ContainsAny(id, "./\\\x00")
}
