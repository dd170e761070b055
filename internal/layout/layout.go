// Package layout defines where everything lives under a storage root.
//
//	<root>/current                             current-session pointer
//	<root>/journal.db                          event journal
//	<root>/debug.log                           debug log
//	<root>/sessions/<id>/session.json          session metadata
//	<root>/sessions/<id>/<task>.<id>.<kind>.md artifacts
//	<root>/sessions/<id>/locks/<task>.lock     task locks
//
// Task names are escaped so that the artifact naming scheme is injective
// and can be parsed back.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	sessionsDirName = "sessions"
	locksDirName    = "locks"
	currentFileName = "current"
	sessionFileName = "session.json"
	journalFileName = "journal.db"
	debugLogName    = "debug.log"
	artifactExt     = ".md"
	lockExt         = ".lock"
)

// Limits that keep every artifact file name within NameMax. The longest
// name is <escaped task>.<session id>.scratchpad.md.
const (
	NameMax           = 255
	MaxSessionIDLen   = 40
	MaxEscapedTaskLen = NameMax - len(".") - MaxSessionIDLen - len(".scratchpad") - len(artifactExt)
)

// CurrentPath returns the path of the current-session pointer.
func CurrentPath(root string) string {
	return filepath.Join(root, currentFileName)
}

// JournalPath returns the path of the SQLite event journal.
func JournalPath(root string) string {
	return filepath.Join(root, journalFileName)
}

// DebugLogPath returns the path of the JSON debug log.
func DebugLogPath(root string) string {
	return filepath.Join(root, debugLogName)
}

// SessionsPath returns the directory holding one directory per session.
func SessionsPath(root string) string {
	return filepath.Join(root, sessionsDirName)
}

// SessionPath returns the directory of one session.
func SessionPath(root, sessionID string) string {
	return filepath.Join(root, sessionsDirName, sessionID)
}

// SessionFilePath returns the metadata record of one session.
func SessionFilePath(root, sessionID string) string {
	return filepath.Join(SessionPath(root, sessionID), sessionFileName)
}

// LocksPath returns the directory holding a session's task locks.
func LocksPath(root, sessionID string) string {
	return filepath.Join(SessionPath(root, sessionID), locksDirName)
}

// LockPath returns the lock record for (session, task).
func LockPath(root, sessionID, task string) string {
	return filepath.Join(LocksPath(root, sessionID), EscapeTask(task)+lockExt)
}

// ArtifactPath returns the file holding one artifact of a task.
func ArtifactPath(root, sessionID, task, kind string) string {
	return filepath.Join(SessionPath(root, sessionID), ArtifactName(sessionID, task, kind))
}

// ArtifactName encodes task, session and kind into a file name.
func ArtifactName(sessionID, task, kind string) string {
	return EscapeTask(task) + "." + sessionID + "." + kind + artifactExt
}

// ParseArtifactName reverses ArtifactName. ok is false for files that are
// not artifacts (metadata, temp files, directories).
func ParseArtifactName(name string) (task, sessionID, kind string, ok bool) {
	if !strings.HasSuffix(name, artifactExt) {
		return "", "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(name, artifactExt), ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	task, err := UnescapeTask(parts[0])
	if err != nil {
		return "", "", "", false
	}
	return task, parts[1], parts[2], true
}

// LockKey is the resource key for the lock guarding (session, task).
func LockKey(sessionID, task string) string {
	return sessionID + "/" + task
}

// LockPathForKey maps a key built by LockKey back to its lock record.
func LockPathForKey(root string) func(key string) string {
	return func(key string) string {
		sessionID, task, _ := strings.Cut(key, "/")
		return LockPath(root, sessionID, task)
	}
}

// EscapeTask keeps [A-Za-z0-9_-] and percent-encodes every other byte.
func EscapeTask(task string) string {
	var b strings.Builder
	for i := 0; i < len(task); i++ {
		c := task[i]
		if isPlain(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// EscapedLen returns len(EscapeTask(task)) without building the string.
func EscapedLen(task string) int {
	n := 0
	for i := 0; i < len(task); i++ {
		if isPlain(task[i]) {
			n++
		} else {
			n += 3
		}
	}
	return n
}

// UnescapeTask reverses EscapeTask.
func UnescapeTask(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			if !isPlain(c) {
				return "", fmt.Errorf("invalid character %q in escaped task name", c)
			}
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape in %q", s)
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("invalid escape in %q", s)
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func isPlain(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
