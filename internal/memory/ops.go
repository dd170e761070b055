package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/drag88/claude-memory-system/internal/filelock"
	"github.com/drag88/claude-memory-system/internal/journal"
	"github.com/drag88/claude-memory-system/internal/layout"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/drag88/claude-memory-system/internal/templates"
	"github.com/drag88/claude-memory-system/internal/workflow"
)

// Result describes a successful mutating operation.
type Result struct {
	Task      string            `json:"task"`
	SessionID string            `json:"session_id"`
	Op        workflow.Op       `json:"op"`
	From      workflow.Phase    `json:"from"`
	To        workflow.Phase    `json:"to"`
	Artifact  *store.Artifact   `json:"-"`
	Path      string            `json:"path"`
	Entries   int               `json:"entries,omitempty"`
	NextStep  string            `json:"next_step"`
	Reclaimed *filelock.Reclaim `json:"-"`
}

// Scratchpad writes discovery notes. Empty content initializes a missing
// scratchpad from the template and leaves an existing one untouched.
func (s *Service) Scratchpad(ctx context.Context, scope Scope, task, content string) (*Result, error) {
	return s.mutate(ctx, scope, task, workflow.OpScratchpad, func(snap store.Snapshot) (*store.Artifact, error) {
		if content == "" {
			if snap.Scratchpad != nil {
				return snap.Scratchpad, nil
			}
			content = s.renderer.MustRender(templates.Scratchpad, templates.NewData(task, scope.SessionID))
		}
		return s.store.Write(ctx, scope.SessionID, task, store.KindScratchpad, content, store.ModeOverwrite)
	})
}

// Plan writes the plan once. Empty content writes the plan template, which
// locks the plan just the same.
func (s *Service) Plan(ctx context.Context, scope Scope, task, content string) (*Result, error) {
	return s.mutate(ctx, scope, task, workflow.OpPlan, func(store.Snapshot) (*store.Artifact, error) {
		if strings.TrimSpace(content) == "" {
			content = s.renderer.MustRender(templates.Plan, templates.NewData(task, scope.SessionID))
		}
		a, err := s.store.Write(ctx, scope.SessionID, task, store.KindPlan, content, store.ModeCreateOnly)
		if errors.Is(err, store.ErrAlreadyExists) {
			// Only reachable if the lock was bypassed.
			return nil, fmt.Errorf("%w: %w", workflow.ErrPlanAlreadyLocked, err)
		}
		return a, err
	})
}

// Append adds one entry to the progress log.
func (s *Service) Append(ctx context.Context, scope Scope, task, content string) (*Result, error) {
	if content == "" {
		return nil, store.ErrEmptyEntry
	}
	return s.mutate(ctx, scope, task, workflow.OpAppend, func(store.Snapshot) (*store.Artifact, error) {
		return s.store.Write(ctx, scope.SessionID, task, store.KindProgress, content, store.ModeAppend)
	})
}

// Read returns one artifact without taking the lock. Writes are atomic
// renames, so the content is always a complete version.
func (s *Service) Read(ctx context.Context, scope Scope, task string, kind store.Kind) (*store.Artifact, error) {
	if _, err := s.sessions.Get(ctx, scope.SessionID); err != nil {
		return nil, err
	}
	return s.store.Read(ctx, scope.SessionID, task, kind)
}

// mutate runs write under the task lock after the workflow approves op.
func (s *Service) mutate(ctx context.Context, scope Scope, task string, op workflow.Op,
	write func(store.Snapshot) (*store.Artifact, error)) (*Result, error) {
	if err := store.ValidateTask(task); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Get(ctx, scope.SessionID); err != nil {
		return nil, err
	}

	log := s.logger.With(slog.String("session", scope.SessionID), slog.String("task", task), slog.String("op", string(op)))

	lk, err := s.locker.Acquire(ctx, layout.LockKey(scope.SessionID, task), s.cfg.LockTimeout)
	if err != nil {
		if errors.Is(err, filelock.ErrLockTimeout) {
			s.record(ctx, journal.Event{Kind: journal.KindRejected, SessionID: scope.SessionID, Task: task, Detail: err.Error()})
		}
		return nil, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			log.Warn("Failed to release lock", slog.Any("error", err))
		}
	}()
	log = log.With(slog.String("holder", lk.Info().HolderID))
	log.Debug("Lock acquired")

	snap, err := s.store.Snapshot(ctx, scope.SessionID, task)
	if err != nil {
		return nil, err
	}
	d := workflow.Decide(workflow.StateOf(snap), op)
	if !d.Allowed() {
		log.Debug("Operation rejected", slog.String("phase", string(d.From)), slog.Any("error", d.Err))
		s.record(ctx, journal.Event{
			Kind: journal.KindRejected, SessionID: scope.SessionID, Task: task,
			Phase: string(d.From), Detail: d.Err.Error(),
		})
		return nil, d.Err
	}

	a, err := write(snap)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Touch(ctx, scope.SessionID); err != nil {
		log.Warn("Failed to update session timestamp", slog.Any("error", err))
	}
	s.record(ctx, journal.Event{
		Kind: eventKind(op), SessionID: scope.SessionID, Task: task,
		Phase: string(d.To), Detail: fmt.Sprintf("%d bytes", a.Size),
	})
	log.Debug("Operation applied", slog.String("from", string(d.From)), slog.String("to", string(d.To)))

	return &Result{
		Task:      task,
		SessionID: scope.SessionID,
		Op:        op,
		From:      d.From,
		To:        d.To,
		Artifact:  a,
		Path:      s.store.Path(scope.SessionID, task, a.Kind),
		Entries:   a.Entries,
		NextStep:  workflow.NextStep(task, d.To),
		Reclaimed: lk.Reclaimed,
	}, nil
}

func eventKind(op workflow.Op) journal.Kind {
	switch op {
	case workflow.OpPlan:
		return journal.KindPlanCreated
	case workflow.OpAppend:
		return journal.KindProgressAppended
	}
	return journal.KindScratchpadWritten
}

func splitLockKey(key string) (sessionID, task string) {
	sessionID, task, _ = strings.Cut(key, "/")
	return sessionID, task
}
