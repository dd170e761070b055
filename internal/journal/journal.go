// Package journal records what happened to task memory in a SQLite
// database: operation outcomes, rejections and stale lock reclaims.
//
// The journal is an audit trail, not a source of truth. Phases are always
// derived from the artifacts on disk; a missing or broken journal never
// blocks an operation.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// ─── Types ───────────────────────────────────────────────────────────────────

// Kind classifies an event.
type Kind string

const (
	KindScratchpadWritten  Kind = "scratchpad_written"
	KindPlanCreated        Kind = "plan_created"
	KindProgressAppended   Kind = "progress_appended"
	KindRejected           Kind = "rejected"
	KindStaleLockReclaimed Kind = "stale_lock_reclaimed"
	KindSessionStarted     Kind = "session_started"
	KindSessionSwitched    Kind = "session_switched"
	KindTaskImported       Kind = "task_imported"
	KindCleanup            Kind = "cleanup"
)

// Event is one journal row.
type Event struct {
	ID        int64     `json:"id" yaml:"id"`
	At        time.Time `json:"at" yaml:"at"`
	Kind      Kind      `json:"kind" yaml:"kind"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Task      string    `json:"task,omitempty" yaml:"task,omitempty"`
	Phase     string    `json:"phase,omitempty" yaml:"phase,omitempty"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	PID       int       `json:"pid" yaml:"pid"`
}

// Filter narrows Recent. Zero fields match everything.
type Filter struct {
	SessionID string
	Task      string
	Kind      Kind
	Limit     int
}

// DefaultLimit caps Recent when Filter.Limit is zero.
const DefaultLimit = 50

// ─── Journal ─────────────────────────────────────────────────────────────────

// Journal is the SQLite-backed event log.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path, enables WAL mode
// and runs migrations.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// Pragmas are per connection; keep exactly one.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: pragma %q: %w", p, err)
		}
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migration: %w", err)
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			at         TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			session_id TEXT    NOT NULL DEFAULT '',
			task       TEXT    NOT NULL DEFAULT '',
			phase      TEXT    NOT NULL DEFAULT '',
			detail     TEXT    NOT NULL DEFAULT '',
			pid        INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_events_at      ON events(at);
		CREATE INDEX IF NOT EXISTS idx_events_task    ON events(session_id, task);
		CREATE INDEX IF NOT EXISTS idx_events_kind    ON events(kind);
	`
	_, err := j.db.Exec(schema)
	return err
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// Record appends an event. A zero At is set to now and a zero PID to the
// current process.
func (j *Journal) Record(ctx context.Context, e Event) (int64, error) {
	if e.Kind == "" {
		return 0, fmt.Errorf("journal: event kind is required")
	}
	if e.At.IsZero() {
		e.At = timeNow()
	}
	if e.PID == 0 {
		e.PID = os.Getpid()
	}

	res, err := j.db.ExecContext(ctx,
		`INSERT INTO events (at, kind, session_id, task, phase, detail, pid)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.At.UTC().Format(timeFormat), string(e.Kind), e.SessionID, e.Task, e.Phase, e.Detail, e.PID,
	)
	if err != nil {
		return 0, fmt.Errorf("journal: insert event: %w", err)
	}
	return res.LastInsertId()
}

// Prune deletes events older than before and returns how many went.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM events WHERE at < ?", before.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Recent returns matching events, newest first.
func (j *Journal) Recent(ctx context.Context, f Filter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Task != "" {
		where = append(where, "task = ?")
		args = append(args, f.Task)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := "SELECT id, at, kind, session_id, task, phase, detail, pid FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e    Event
			at   string
			kind string
		)
		if err := rows.Scan(&e.ID, &at, &kind, &e.SessionID, &e.Task, &e.Phase, &e.Detail, &e.PID); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		e.Kind = Kind(kind)
		if t, err := time.Parse(timeFormat, at); err == nil {
			e.At = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Counts returns the number of events per kind.
func (j *Journal) Counts(ctx context.Context) (map[Kind]int, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM events GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("journal: count events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Kind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("journal: scan count: %w", err)
		}
		counts[Kind(kind)] = n
	}
	return counts, rows.Err()
}
