// Package memory is the task-memory API. It composes the session manager,
// the artifact store, the file lock and the workflow rules.
//
// Every mutating call follows the same shape: acquire the task lock, read a
// fresh snapshot, ask the workflow for a decision, write, release. The lock
// is released on every exit path. Session context is explicit: callers pass
// a Scope, usually obtained once per invocation from Resolve.
package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/drag88/claude-memory-system/internal/filelock"
	"github.com/drag88/claude-memory-system/internal/journal"
	"github.com/drag88/claude-memory-system/internal/layout"
	"github.com/drag88/claude-memory-system/internal/session"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/drag88/claude-memory-system/internal/templates"
)

// ErrJournalDisabled is returned by Events when no journal is configured.
var ErrJournalDisabled = errors.New("event journal is disabled")

// Journal is the subset of the event journal the service uses.
type Journal interface {
	Record(ctx context.Context, e journal.Event) (int64, error)
	Recent(ctx context.Context, f journal.Filter) ([]journal.Event, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Counts(ctx context.Context) (map[journal.Kind]int, error)
}

// Config holds the plain values the service needs. It is filled by the
// caller; nothing in this package reads the environment.
type Config struct {
	Root           string
	ProjectPath    string
	LockTimeout    time.Duration
	StaleThreshold time.Duration
	RetryInterval  time.Duration
}

// Scope names the session an operation runs in.
type Scope struct {
	SessionID string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJournal enables event recording.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// Service implements the task-memory operations. It holds no mutable
// state and is safe for concurrent use.
type Service struct {
	cfg      Config
	sessions *session.Manager
	store    *store.FileStore
	locker   *filelock.Locker
	renderer *templates.Renderer
	journal  Journal
	logger   *slog.Logger
}

// New wires a Service rooted at cfg.Root.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	cfg.Root = root
	if err := os.MkdirAll(layout.SessionsPath(root), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = filelock.DefaultTimeout
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		renderer: renderer,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sessions = session.NewManager(root,
		session.WithLogger(s.logger),
		session.WithProjectPath(cfg.ProjectPath),
	)
	s.store = store.New(root,
		store.WithLogger(s.logger),
		store.WithProgressPreamble(func(task, sessionID string) string {
			return renderer.MustRender(templates.Progress, templates.NewData(task, sessionID))
		}),
	)
	s.locker = filelock.New(layout.LockPathForKey(root),
		filelock.WithStaleThreshold(cfg.StaleThreshold),
		filelock.WithRetryInterval(cfg.RetryInterval),
		filelock.WithLogger(s.logger),
		filelock.WithEventSink(reclaimRecorder{s}),
	)
	return s, nil
}

// Root returns the absolute storage root.
func (s *Service) Root() string { return s.cfg.Root }

// Sessions exposes the session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Resolve returns the scope of the current session, creating a default
// session if there is none.
func (s *Service) Resolve(ctx context.Context) (Scope, error) {
	sess, err := s.sessions.Current(ctx)
	if err != nil {
		return Scope{}, err
	}
	return Scope{SessionID: sess.ID}, nil
}

// ScopeFor returns the scope of id, or of the current session when id is
// empty.
func (s *Service) ScopeFor(ctx context.Context, id string) (Scope, error) {
	if id == "" {
		return s.Resolve(ctx)
	}
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return Scope{}, err
	}
	return Scope{SessionID: id}, nil
}

// --- Sessions ---

// StartSession creates a session and makes it current.
func (s *Service) StartSession(ctx context.Context, name string, metadata map[string]string) (*session.Session, error) {
	sess, err := s.sessions.Start(ctx, name, metadata)
	if err != nil {
		return nil, err
	}
	s.record(ctx, journal.Event{Kind: journal.KindSessionStarted, SessionID: sess.ID, Detail: name})
	return sess, nil
}

// SwitchSession makes an existing session current.
func (s *Service) SwitchSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.sessions.Switch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.record(ctx, journal.Event{Kind: journal.KindSessionSwitched, SessionID: sess.ID})
	return sess, nil
}

// ListSessions yields sessions in creation order.
func (s *Service) ListSessions(ctx context.Context) iter.Seq2[*session.Session, error] {
	return s.sessions.List(ctx)
}

// SessionInfo describes one session and its tasks.
type SessionInfo struct {
	Session *session.Session `json:"session" yaml:"session"`
	Current bool             `json:"current" yaml:"current"`
	Tasks   []*Status        `json:"tasks" yaml:"tasks"`
	Stats   session.Stats    `json:"stats" yaml:"stats"`
}

// SessionInfo returns details of the session in scope.
func (s *Service) SessionInfo(ctx context.Context, scope Scope) (*SessionInfo, error) {
	sess, err := s.sessions.Get(ctx, scope.SessionID)
	if err != nil {
		return nil, err
	}
	current, err := s.sessions.CurrentID()
	if err != nil {
		return nil, err
	}
	tasks, err := s.StatusAll(ctx, scope, StatusOptions{Snapshot: true})
	if err != nil {
		return nil, err
	}
	stats, err := s.sessions.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{Session: sess, Current: current == sess.ID, Tasks: tasks, Stats: stats}, nil
}

// --- Events ---

// Events returns journal events, newest first.
func (s *Service) Events(ctx context.Context, f journal.Filter) ([]journal.Event, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	return s.journal.Recent(ctx, f)
}

// EventCounts returns the number of journal events per kind.
func (s *Service) EventCounts(ctx context.Context) (map[journal.Kind]int, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	return s.journal.Counts(ctx)
}

// record writes a journal event. Journal failures are logged, never
// returned.
func (s *Service) record(ctx context.Context, e journal.Event) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("Failed to record event", slog.String("kind", string(e.Kind)), slog.Any("error", err))
	}
}

// reclaimRecorder turns lock reclaims into journal events.
type reclaimRecorder struct{ s *Service }

func (r reclaimRecorder) StaleLockReclaimed(ctx context.Context, rc filelock.Reclaim) {
	sessionID, task := splitLockKey(rc.Key)
	r.s.record(ctx, journal.Event{
		Kind:      journal.KindStaleLockReclaimed,
		SessionID: sessionID,
		Task:      task,
		Detail: fmt.Sprintf("pid=%d host=%s age=%s",
			rc.Previous.PID, rc.Previous.Hostname, rc.Age.Round(time.Second)),
	})
}
