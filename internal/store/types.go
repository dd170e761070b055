// Package store persists task artifacts on the local filesystem.
//
// Every (session, task) has at most three artifacts: a scratchpad, a plan
// and a progress log. The store knows nothing about workflow phases; it
// only enforces existence (createOnly) and append boundaries. Callers must
// hold the task lock around any read-decide-write sequence.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drag88/claude-memory-system/internal/layout"
)

var (
	// ErrNotFound is returned when an artifact does not exist.
	ErrNotFound = errors.New("artifact not found")
	// ErrAlreadyExists is returned by createOnly writes when content is present.
	ErrAlreadyExists = errors.New("artifact already exists")
	// ErrInvalidTask is returned for task names that cannot be stored.
	ErrInvalidTask = errors.New("invalid task name")
	// ErrEmptyEntry is returned when appending an empty progress entry.
	ErrEmptyEntry = errors.New("progress entry is empty")
)

// --- Kind enum ---

// Kind identifies one of the three artifacts of a task.
type Kind string

const (
	KindScratchpad Kind = "scratchpad"
	KindPlan       Kind = "plan"
	KindProgress   Kind = "progress"
)

// Kinds lists artifact kinds in workflow order.
var Kinds = []Kind{KindScratchpad, KindPlan, KindProgress}

// ValidateKind returns an error if the kind is not recognized.
func ValidateKind(k Kind) error {
	switch k {
	case KindScratchpad, KindPlan, KindProgress:
		return nil
	}
	return fmt.Errorf("invalid artifact kind %q: must be one of: scratchpad, plan, progress", k)
}

// --- Write mode enum ---

// Mode selects how Write treats existing content.
type Mode string

const (
	ModeOverwrite  Mode = "overwrite"
	ModeCreateOnly Mode = "createOnly"
	ModeAppend     Mode = "append"
)

// ValidateMode returns an error if the mode is not recognized.
func ValidateMode(m Mode) error {
	switch m {
	case ModeOverwrite, ModeCreateOnly, ModeAppend:
		return nil
	}
	return fmt.Errorf("invalid write mode %q: must be one of: overwrite, createOnly, append", m)
}

// MaxTaskNameLen bounds the escaped form of a task name in bytes. Bytes
// outside [A-Za-z0-9_-] take three bytes once escaped.
const MaxTaskNameLen = layout.MaxEscapedTaskLen

// AllTasks is the reserved name meaning "every task in the session".
const AllTasks = "*"

// ValidateTask returns an error wrapping ErrInvalidTask if name cannot be
// used as a task name.
func ValidateTask(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidTask)
	case name == AllTasks:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTask, AllTasks)
	case layout.EscapedLen(name) > MaxTaskNameLen:
		return fmt.Errorf("%w: name exceeds %d bytes once escaped", ErrInvalidTask, MaxTaskNameLen)
	case strings.ContainsAny(name, "\x00\n\r"):
		return fmt.Errorf("%w: name contains control characters", ErrInvalidTask)
	}
	return nil
}

// Artifact is one stored artifact.
type Artifact struct {
	Task      string
	SessionID string
	Kind      Kind
	Content   string
	Size      int64
	ModTime   time.Time
	ReadOnly  bool
	// Entries is the sequence number of the last progress entry. Zero for
	// other kinds.
	Entries int
}

// HasContent reports whether the artifact carries non-blank content.
func (a *Artifact) HasContent() bool {
	return a != nil && strings.TrimSpace(a.Content) != ""
}

// Snapshot holds the three artifacts of a task as read at one moment.
// Missing artifacts are nil.
type Snapshot struct {
	Task       string
	SessionID  string
	Scratchpad *Artifact
	Plan       *Artifact
	Progress   *Artifact
}

// Get returns the artifact of the given kind, or nil.
func (s Snapshot) Get(k Kind) *Artifact {
	switch k {
	case KindScratchpad:
		return s.Scratchpad
	case KindPlan:
		return s.Plan
	case KindProgress:
		return s.Progress
	}
	return nil
}

// Exists reports whether any artifact of the task exists.
func (s Snapshot) Exists() bool {
	return s.Scratchpad != nil || s.Plan != nil || s.Progress != nil
}
