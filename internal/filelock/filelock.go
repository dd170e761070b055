// Package filelock provides an exclusive, cross-process lock per resource key.
//
// A lock is a small JSON record on disk. It is created atomically (written
// to a temp file, then hard-linked into place) so readers never observe a
// partial record. Records whose owner process has died and whose age
// exceeds the staleness threshold are reclaimed on the next acquire.
package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrLockTimeout is returned when a lock cannot be acquired before the
// timeout elapses.
var ErrLockTimeout = errors.New("lock timeout")

const (
	// DefaultTimeout bounds how long Acquire waits when no timeout is given.
	DefaultTimeout = 30 * time.Second
	// DefaultStaleThreshold is the minimum age before a dead holder's lock
	// may be reclaimed.
	DefaultStaleThreshold = 5 * time.Minute
	// DefaultRetryInterval is the polling interval between acquire attempts.
	DefaultRetryInterval = 100 * time.Millisecond

	lockExt  = ".lock"
	guardExt = ".reclaim"
)

// For testing: tests replace these to control time, process liveness and
// directory watching.
var (
	timeNow      = time.Now
	processAlive = func(pid int) bool {
		ok, err := process.PidExists(int32(pid))
		return err == nil && ok
	}
	watchDir = func(dir string) (<-chan fsnotify.Event, <-chan error, func(), error) {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, nil, nil, err
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, nil, nil, err
		}
		return w.Events, w.Errors, func() { _ = w.Close() }, nil
	}
)

// Info is the record persisted in a lock file.
type Info struct {
	Key        string    `json:"key"`
	HolderID   string    `json:"holder_id"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Age returns how long ago the lock was acquired.
func (i Info) Age() time.Duration {
	return timeNow().Sub(i.AcquiredAt)
}

// Reclaim describes a stale lock that was removed so a new holder could
// acquire it.
type Reclaim struct {
	Key      string
	Previous Info
	Age      time.Duration
}

// EventSink receives StaleLockReclaimed notifications.
type EventSink interface {
	StaleLockReclaimed(ctx context.Context, r Reclaim)
}

// Options configures a Locker.
type Options struct {
	StaleThreshold time.Duration
	RetryInterval  time.Duration
	Logger         *slog.Logger
	Events         EventSink
}

// Option mutates Options.
type Option func(*Options)

// WithStaleThreshold sets the staleness threshold.
func WithStaleThreshold(d time.Duration) Option {
	return func(o *Options) { o.StaleThreshold = d }
}

// WithRetryInterval sets the acquire polling interval.
func WithRetryInterval(d time.Duration) Option {
	return func(o *Options) { o.RetryInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithEventSink sets the receiver of reclaim events.
func WithEventSink(s EventSink) Option {
	return func(o *Options) { o.Events = s }
}

// Locker hands out locks stored as files.
type Locker struct {
	path func(key string) string
	opts Options
}

// New creates a Locker. path maps a resource key to its lock file path.
func New(path func(key string) string, opts ...Option) *Locker {
	o := Options{
		StaleThreshold: DefaultStaleThreshold,
		RetryInterval:  DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = DefaultStaleThreshold
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return &Locker{path: path, opts: o}
}

// Lock is a held lock. Release is idempotent.
type Lock struct {
	info     Info
	path     string
	locker   *Locker
	released bool

	// Reclaimed is set when acquiring this lock removed a stale one.
	Reclaimed *Reclaim
}

// Info returns the record this lock was acquired with.
func (lk *Lock) Info() Info { return lk.info }

// Acquire blocks until the lock for key is held, the timeout elapses
// (ErrLockTimeout) or ctx is done. A non-positive timeout uses
// DefaultTimeout.
func (l *Locker) Acquire(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	path := l.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wake, watchErrs, stop, err := watchDir(dir)
	if err != nil {
		l.opts.Logger.Debug("Lock watcher unavailable, polling", slog.String("key", key), slog.Any("error", err))
	} else {
		defer stop()
	}

	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	var reclaimed *Reclaim
	for {
		lk, r, err := l.tryAcquire(ctx, key, path)
		if err != nil {
			return nil, err
		}
		if r != nil {
			reclaimed = r
		}
		if lk != nil {
			lk.Reclaimed = reclaimed
			return lk, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, l.timeoutError(key, path, timeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		case ev, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			// Only removals or renames of our record can free the lock.
			if ev.Name != path {
				continue
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			l.opts.Logger.Debug("Lock watcher error", slog.String("key", key), slog.Any("error", err))
		}
	}
}

func (l *Locker) tryAcquire(ctx context.Context, key, path string) (*Lock, *Reclaim, error) {
	info := Info{
		Key:        key,
		HolderID:   uuid.NewString(),
		PID:        os.Getpid(),
		Hostname:   hostname(),
		AcquiredAt: timeNow().UTC(),
	}
	ok, err := createExclusive(path, info)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		return &Lock{info: info, path: path, locker: l}, nil, nil
	}

	r, err := l.reclaimIfStale(ctx, key, path)
	if err != nil || r == nil {
		return nil, nil, err
	}

	// The stale record is gone; try once more before waiting again.
	info.AcquiredAt = timeNow().UTC()
	ok, err = createExclusive(path, info)
	if err != nil {
		return nil, r, err
	}
	if !ok {
		return nil, r, nil
	}
	return &Lock{info: info, path: path, locker: l}, r, nil
}

// reclaimIfStale removes the record at path if it is stale. Reclamation is
// serialized by a guard file, and the holder is re-read under the guard so
// a fresh record written by someone else is never removed.
func (l *Locker) reclaimIfStale(ctx context.Context, key, path string) (*Reclaim, error) {
	prev, stale := l.inspect(path)
	if !stale {
		return nil, nil
	}

	guard := path + guardExt
	ok, err := createExclusive(guard, Info{Key: key, PID: os.Getpid(), Hostname: hostname(), AcquiredAt: timeNow().UTC()})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else is reclaiming. Drop a guard left by a crashed reclaimer.
		if fi, err := os.Stat(guard); err == nil && timeNow().Sub(fi.ModTime()) > l.opts.StaleThreshold {
			_ = os.Remove(guard)
		}
		return nil, nil
	}
	defer func() { _ = os.Remove(guard) }()

	again, stale := l.inspect(path)
	if !stale || again.HolderID != prev.HolderID {
		return nil, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale lock: %w", err)
	}

	r := &Reclaim{Key: key, Previous: again, Age: timeNow().Sub(again.AcquiredAt)}
	l.opts.Logger.Warn("Reclaimed stale lock",
		slog.String("key", key),
		slog.Int("pid", again.PID),
		slog.String("hostname", again.Hostname),
		slog.Duration("age", r.Age),
	)
	if l.opts.Events != nil {
		l.opts.Events.StaleLockReclaimed(ctx, *r)
	}
	return r, nil
}

// inspect reads the record at path and reports whether it is stale.
// A missing record is not stale.
func (l *Locker) inspect(path string) (Info, bool) {
	info, err := readInfo(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, false
		}
		// Unreadable record: fall back to file age.
		fi, statErr := os.Stat(path)
		if statErr != nil {
			return Info{}, false
		}
		info = Info{AcquiredAt: fi.ModTime()}
		return info, timeNow().Sub(fi.ModTime()) > l.opts.StaleThreshold
	}
	return info, l.isStale(info)
}

func (l *Locker) isStale(info Info) bool {
	if info.Age() <= l.opts.StaleThreshold {
		return false
	}
	// Liveness of a holder on another host cannot be checked.
	if info.Hostname != "" && info.Hostname != hostname() {
		return false
	}
	return info.PID <= 0 || !processAlive(info.PID)
}

func (l *Locker) timeoutError(key, path string, timeout time.Duration) error {
	info, err := readInfo(path)
	if err != nil {
		return fmt.Errorf("%w: %q not acquired within %s", ErrLockTimeout, key, timeout)
	}
	return fmt.Errorf("%w: %q not acquired within %s (held by pid %d on %s for %s)",
		ErrLockTimeout, key, timeout, info.PID, info.Hostname, info.Age().Round(time.Millisecond))
}

// Release removes the lock record if it still belongs to this holder.
// Calling Release more than once is a no-op.
func (lk *Lock) Release() error {
	if lk == nil || lk.released {
		return nil
	}
	lk.released = true

	info, err := readInfo(lk.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading lock: %w", err)
	}
	if info.HolderID != lk.info.HolderID {
		// Reclaimed by someone else after we were considered stale.
		lk.locker.opts.Logger.Warn("Lock no longer owned at release",
			slog.String("key", lk.info.Key),
			slog.Int("owner_pid", info.PID),
		)
		return nil
	}
	if err := os.Remove(lk.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock: %w", err)
	}
	return nil
}

// Holder returns the current record for key, or os.ErrNotExist if the
// lock is free.
func (l *Locker) Holder(key string) (Info, error) {
	return readInfo(l.path(key))
}

// IsHeld reports whether key is held by a live, non-stale holder.
func (l *Locker) IsHeld(key string) bool {
	path := l.path(key)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_, stale := l.inspect(path)
	return !stale
}

// CleanStale removes every stale lock record in dir and returns the
// reclaimed records.
func (l *Locker) CleanStale(ctx context.Context, dir string) ([]Reclaim, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading lock directory: %w", err)
	}

	var out []Reclaim
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), lockExt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, _ := readInfo(path)
		key := info.Key
		if key == "" {
			key = strings.TrimSuffix(e.Name(), lockExt)
		}
		r, err := l.reclaimIfStale(ctx, key, path)
		if err != nil {
			return out, err
		}
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// createExclusive writes info to a temp file and links it to path. It
// returns false if path already exists.
func createExclusive(path string, info Info) (bool, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("marshaling lock: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".lock-*")
	if err != nil {
		return false, fmt.Errorf("creating temp lock: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("writing temp lock: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("closing temp lock: %w", err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("linking lock: %w", err)
	}
	return true, nil
}

func readInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("parsing lock %s: %w", filepath.Base(path), err)
	}
	return info, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
