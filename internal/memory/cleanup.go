package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/drag88/claude-memory-system/internal/filelock"
	"github.com/drag88/claude-memory-system/internal/journal"
	"github.com/drag88/claude-memory-system/internal/layout"
)

// CleanupReport lists what Cleanup removed.
type CleanupReport struct {
	RemovedSessions []string           `json:"removed_sessions"`
	ReclaimedLocks  []filelock.Reclaim `json:"reclaimed_locks"`
	PrunedEvents    int64              `json:"pruned_events"`
}

// Cleanup reclaims stale locks in every session, then removes sessions not
// updated within maxAge. The current session and sessions with a live lock
// are kept. Journal events older than maxAge are pruned too.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (*CleanupReport, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive, got %s", maxAge)
	}
	report := &CleanupReport{}

	for sess, err := range s.sessions.List(ctx) {
		if err != nil {
			// Corrupted records are handled by session cleanup below.
			s.logger.Warn("Skipping unreadable session", slog.Any("error", err))
			continue
		}
		reclaimed, err := s.locker.CleanStale(ctx, layout.LocksPath(s.cfg.Root, sess.ID))
		if err != nil {
			return report, err
		}
		report.ReclaimedLocks = append(report.ReclaimedLocks, reclaimed...)
	}

	removed, err := s.sessions.Cleanup(ctx, maxAge, s.hasLiveLock)
	if err != nil {
		return report, err
	}
	report.RemovedSessions = removed

	if s.journal != nil {
		n, err := s.journal.Prune(ctx, time.Now().Add(-maxAge))
		if err != nil {
			s.logger.Warn("Failed to prune journal", slog.Any("error", err))
		}
		report.PrunedEvents = n
	}

	s.record(ctx, journal.Event{
		Kind: journal.KindCleanup,
		Detail: fmt.Sprintf("sessions=%d locks=%d events=%d",
			len(report.RemovedSessions), len(report.ReclaimedLocks), report.PrunedEvents),
	})
	return report, nil
}

// hasLiveLock reports whether any task lock in the session is held.
func (s *Service) hasLiveLock(sessionID string) bool {
	entries, err := os.ReadDir(layout.LocksPath(s.cfg.Root, sessionID))
	if err != nil {
		return false
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".lock")
		if !ok {
			continue
		}
		task, err := layout.UnescapeTask(name)
		if err != nil {
			continue
		}
		if s.locker.IsHeld(layout.LockKey(sessionID, task)) {
			return true
		}
	}
	return false
}
