package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts ...Option) (*Locker, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithRetryInterval(5 * time.Millisecond)}, opts...)
	l := New(func(key string) string {
		return filepath.Join(dir, key+lockExt)
	}, opts...)
	return l, dir
}

type recordingSink struct {
	mu     sync.Mutex
	events []Reclaim
}

func (s *recordingSink) StaleLockReclaimed(_ context.Context, r Reclaim) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, r)
}

func writeRecord(t *testing.T, path string, info Info) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// --- Acquire / Release ---

func TestAcquire_WritesRecord(t *testing.T) {
	l, dir := newTestLocker(t)

	lk, err := l.Acquire(context.Background(), "task-a", time.Second)
	require.NoError(t, err)
	defer func() { _ = lk.Release() }()

	info, err := readInfo(filepath.Join(dir, "task-a.lock"))
	require.NoError(t, err)
	assert.Equal(t, "task-a", info.Key)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, lk.Info().HolderID, info.HolderID)
	assert.Nil(t, lk.Reclaimed)
}

func TestHolder(t *testing.T) {
	l, _ := newTestLocker(t)

	_, err := l.Holder("k")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, l.IsHeld("k"))

	lk, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	info, err := l.Holder("k")
	require.NoError(t, err)
	assert.Equal(t, lk.Info().HolderID, info.HolderID)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.True(t, lk.Info().AcquiredAt.Equal(info.AcquiredAt))
	assert.True(t, l.IsHeld("k"))

	require.NoError(t, lk.Release())
	_, err = l.Holder("k")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRelease_Idempotent(t *testing.T) {
	l, dir := newTestLocker(t)

	lk, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	require.NoError(t, lk.Release())
	require.NoError(t, lk.Release())

	_, err = os.Stat(filepath.Join(dir, "k.lock"))
	assert.True(t, os.IsNotExist(err))
}

func TestRelease_DoesNotRemoveOtherHolder(t *testing.T) {
	l, dir := newTestLocker(t)

	lk, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	// Simulate the record being reclaimed and re-acquired by someone else.
	other := Info{Key: "k", HolderID: "someone-else", PID: os.Getpid(), Hostname: hostname(), AcquiredAt: time.Now()}
	writeRecord(t, filepath.Join(dir, "k.lock"), other)

	require.NoError(t, lk.Release())

	info, err := readInfo(filepath.Join(dir, "k.lock"))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", info.HolderID)
}

func TestAcquire_TimeoutWhileHeld(t *testing.T) {
	l, _ := newTestLocker(t)

	held, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = l.Acquire(context.Background(), "k", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.Contains(t, err.Error(), "held by pid")
}

func TestAcquire_ContextCanceled(t *testing.T) {
	l, _ := newTestLocker(t)

	held, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	l, _ := newTestLocker(t)

	held, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Release()
	}()

	lk, err := l.Acquire(context.Background(), "k", 2*time.Second)
	require.NoError(t, err)
	assert.NoError(t, lk.Release())
}

func TestAcquire_KeepsWatchingAfterWatcherErrors(t *testing.T) {
	// No ticker wake-ups: only the watcher can free the waiter.
	l, dir := newTestLocker(t, WithRetryInterval(time.Hour))
	events := make(chan fsnotify.Event)
	errs := make(chan error)
	orig := watchDir
	watchDir = func(string) (<-chan fsnotify.Event, <-chan error, func(), error) {
		return events, errs, func() {}, nil
	}
	defer func() { watchDir = orig }()

	held, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		lk, err := l.Acquire(context.Background(), "k", 10*time.Second)
		if err == nil {
			err = lk.Release()
		}
		done <- err
	}()

	for i := 0; i < 3; i++ {
		select {
		case errs <- errors.New("event queue overflow"):
		case <-time.After(2 * time.Second):
			t.Fatalf("watcher error %d was not consumed", i)
		}
	}

	require.NoError(t, held.Release())
	select {
	case events <- fsnotify.Event{Name: filepath.Join(dir, "k"+lockExt), Op: fsnotify.Remove}:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter stopped reading watcher events")
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter did not acquire after release")
	}
}

func TestAcquire_DifferentKeysIndependent(t *testing.T) {
	l, _ := newTestLocker(t)

	a, err := l.Acquire(context.Background(), "a", time.Second)
	require.NoError(t, err)
	defer func() { _ = a.Release() }()

	b, err := l.Acquire(context.Background(), "b", 50*time.Millisecond)
	require.NoError(t, err)
	assert.NoError(t, b.Release())
}

func TestAcquire_MutualExclusion(t *testing.T) {
	l, _ := newTestLocker(t)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lk, err := l.Acquire(context.Background(), "shared", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, lk.Release())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

// --- Stale reclaim ---

func TestAcquire_ReclaimsStaleDeadHolder(t *testing.T) {
	sink := &recordingSink{}
	l, dir := newTestLocker(t, WithStaleThreshold(time.Minute), WithEventSink(sink))

	orig := processAlive
	processAlive = func(pid int) bool { return pid != 424242 }
	defer func() { processAlive = orig }()

	writeRecord(t, filepath.Join(dir, "k.lock"), Info{
		Key: "k", HolderID: "dead", PID: 424242, Hostname: hostname(),
		AcquiredAt: time.Now().Add(-10 * time.Minute),
	})

	lk, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer func() { _ = lk.Release() }()

	require.NotNil(t, lk.Reclaimed)
	assert.Equal(t, 424242, lk.Reclaimed.Previous.PID)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "k", sink.events[0].Key)
}

func TestAcquire_DoesNotReclaimLiveHolder(t *testing.T) {
	l, dir := newTestLocker(t, WithStaleThreshold(time.Minute))

	writeRecord(t, filepath.Join(dir, "k.lock"), Info{
		Key: "k", HolderID: "alive", PID: os.Getpid(), Hostname: hostname(),
		AcquiredAt: time.Now().Add(-10 * time.Minute),
	})

	_, err := l.Acquire(context.Background(), "k", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestAcquire_DoesNotReclaimYoungDeadHolder(t *testing.T) {
	l, dir := newTestLocker(t, WithStaleThreshold(time.Hour))

	orig := processAlive
	processAlive = func(int) bool { return false }
	defer func() { processAlive = orig }()

	writeRecord(t, filepath.Join(dir, "k.lock"), Info{
		Key: "k", HolderID: "young", PID: 424242, Hostname: hostname(),
		AcquiredAt: time.Now(),
	})

	_, err := l.Acquire(context.Background(), "k", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestAcquire_DoesNotReclaimForeignHost(t *testing.T) {
	l, dir := newTestLocker(t, WithStaleThreshold(time.Minute))

	orig := processAlive
	processAlive = func(int) bool { return false }
	defer func() { processAlive = orig }()

	writeRecord(t, filepath.Join(dir, "k.lock"), Info{
		Key: "k", HolderID: "remote", PID: 1, Hostname: "some-other-host.invalid",
		AcquiredAt: time.Now().Add(-time.Hour),
	})

	_, err := l.Acquire(context.Background(), "k", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestCleanStale(t *testing.T) {
	l, dir := newTestLocker(t, WithStaleThreshold(time.Minute))

	orig := processAlive
	processAlive = func(pid int) bool { return pid == os.Getpid() }
	defer func() { processAlive = orig }()

	old := time.Now().Add(-time.Hour)
	writeRecord(t, filepath.Join(dir, "dead.lock"), Info{Key: "dead", HolderID: "1", PID: 424242, Hostname: hostname(), AcquiredAt: old})
	writeRecord(t, filepath.Join(dir, "live.lock"), Info{Key: "live", HolderID: "2", PID: os.Getpid(), Hostname: hostname(), AcquiredAt: old})

	reclaimed, err := l.CleanStale(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "dead", reclaimed[0].Key)

	assert.False(t, l.IsHeld("dead"))
	assert.True(t, l.IsHeld("live"))
}

func TestCleanStale_MissingDir(t *testing.T) {
	l, dir := newTestLocker(t)
	reclaimed, err := l.CleanStale(context.Background(), filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, reclaimed)
}
