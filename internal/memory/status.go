package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/drag88/claude-memory-system/internal/layout"
	"github.com/drag88/claude-memory-system/internal/store"
	"github.com/drag88/claude-memory-system/internal/workflow"
)

// ArtifactStatus describes one artifact without its content.
type ArtifactStatus struct {
	Kind     store.Kind `json:"kind" yaml:"kind"`
	Present  bool       `json:"present" yaml:"present"`
	Size     int64      `json:"size,omitempty" yaml:"size,omitempty"`
	ModTime  time.Time  `json:"modified,omitzero" yaml:"modified,omitempty"`
	Digest   string     `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	ReadOnly bool       `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// Status is the phase and artifact summary of a task.
type Status struct {
	Task            string           `json:"task" yaml:"task"`
	SessionID       string           `json:"session_id" yaml:"session_id"`
	Phase           workflow.Phase   `json:"phase" yaml:"phase"`
	Exists          bool             `json:"exists" yaml:"exists"`
	Artifacts       []ArtifactStatus `json:"artifacts" yaml:"artifacts"`
	ProgressEntries int              `json:"progress_entries" yaml:"progress_entries"`
	Allowed         []workflow.Op    `json:"allowed" yaml:"allowed"`
	NextStep        string           `json:"next_step" yaml:"next_step"`
	Issues          []string         `json:"issues,omitempty" yaml:"issues,omitempty"`
	// LockedBy is set by snapshot reads when another holder has the task
	// lock at the time of the read.
	LockedBy *LockHolder `json:"locked_by,omitempty" yaml:"locked_by,omitempty"`
}

// LockHolder identifies the process holding a task lock.
type LockHolder struct {
	PID      int       `json:"pid" yaml:"pid"`
	Hostname string    `json:"hostname" yaml:"hostname"`
	Since    time.Time `json:"since" yaml:"since"`
}

// Artifact returns the status entry of kind.
func (st *Status) Artifact(kind store.Kind) ArtifactStatus {
	for _, a := range st.Artifacts {
		if a.Kind == kind {
			return a
		}
	}
	return ArtifactStatus{Kind: kind}
}

// StatusOptions tunes Status.
type StatusOptions struct {
	// Snapshot reads without the task lock. The result is still a set of
	// complete artifact versions, but they may come from different moments.
	Snapshot bool
}

// Status reports the phase and artifacts of a task. By default the task
// lock is held just long enough to read a consistent snapshot. A task with
// no artifacts is reported in DISCOVERY with Exists false.
func (s *Service) Status(ctx context.Context, scope Scope, task string, opts StatusOptions) (*Status, error) {
	if err := store.ValidateTask(task); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Get(ctx, scope.SessionID); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, scope, task, !opts.Snapshot)
	if err != nil {
		return nil, err
	}
	st := buildStatus(snap)
	if opts.Snapshot {
		st.LockedBy = s.lockHolder(scope.SessionID, task)
	}
	return st, nil
}

// lockHolder returns the live holder of the task lock, or nil.
func (s *Service) lockHolder(sessionID, task string) *LockHolder {
	key := layout.LockKey(sessionID, task)
	if !s.locker.IsHeld(key) {
		return nil
	}
	info, err := s.locker.Holder(key)
	if err != nil {
		return nil
	}
	return &LockHolder{PID: info.PID, Hostname: info.Hostname, Since: info.AcquiredAt}
}

// StatusAll reports every task of the session, sorted by name.
func (s *Service) StatusAll(ctx context.Context, scope Scope, opts StatusOptions) ([]*Status, error) {
	if _, err := s.sessions.Get(ctx, scope.SessionID); err != nil {
		return nil, err
	}
	var out []*Status
	for task, err := range s.store.ListTasks(ctx, scope.SessionID) {
		if err != nil {
			return nil, err
		}
		st, err := s.Status(ctx, scope, task, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// snapshot reads all artifacts of a task, under the task lock if locked.
func (s *Service) snapshot(ctx context.Context, scope Scope, task string, locked bool) (store.Snapshot, error) {
	if !locked {
		return s.store.Snapshot(ctx, scope.SessionID, task)
	}
	lk, err := s.locker.Acquire(ctx, layout.LockKey(scope.SessionID, task), s.cfg.LockTimeout)
	if err != nil {
		return store.Snapshot{}, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			s.logger.Warn("Failed to release lock", slog.String("task", task), slog.Any("error", err))
		}
	}()
	return s.store.Snapshot(ctx, scope.SessionID, task)
}

func buildStatus(snap store.Snapshot) *Status {
	state := workflow.StateOf(snap)
	phase := workflow.PhaseOf(state)
	st := &Status{
		Task:            snap.Task,
		SessionID:       snap.SessionID,
		Phase:           phase,
		Exists:          snap.Exists(),
		ProgressEntries: state.ProgressEntries,
		Allowed:         workflow.Allowed(state),
		NextStep:        workflow.NextStep(snap.Task, phase),
		Issues:          workflow.Issues(state),
	}
	for _, k := range store.Kinds {
		as := ArtifactStatus{Kind: k}
		if a := snap.Get(k); a != nil {
			sum := sha256.Sum256([]byte(a.Content))
			as.Present = true
			as.Size = a.Size
			as.ModTime = a.ModTime
			as.Digest = hex.EncodeToString(sum[:])
			as.ReadOnly = a.ReadOnly
		}
		st.Artifacts = append(st.Artifacts, as)
	}
	return st
}
