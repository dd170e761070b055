package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Pin timestamps so progress entries are deterministic.
	timeNow = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
}

const sid = "0192aaaa-bbbb-7ccc-8ddd-eeeeffff0000"

func newTestStore(t *testing.T, opts ...Option) *FileStore {
	t.Helper()
	return New(t.TempDir(), opts...)
}

// --- Read / Write ---

func TestRead_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read(context.Background(), sid, "t1", KindPlan)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWrite_OverwriteReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, sid, "t1", KindScratchpad, "first", ModeOverwrite)
	require.NoError(t, err)
	a, err := s.Write(ctx, sid, "t1", KindScratchpad, "second", ModeOverwrite)
	require.NoError(t, err)

	assert.Equal(t, "second", a.Content)
	assert.Equal(t, int64(len("second")), a.Size)
	assert.False(t, a.ModTime.IsZero())
}

func TestWrite_CreateOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Write(ctx, sid, "t1", KindPlan, "do X", ModeCreateOnly)
	require.NoError(t, err)
	assert.True(t, a.ReadOnly, "plans are stored read-only")

	_, err = s.Write(ctx, sid, "t1", KindPlan, "do Y", ModeCreateOnly)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.Read(ctx, sid, "t1", KindPlan)
	require.NoError(t, err)
	assert.Equal(t, "do X", got.Content)
}

func TestWrite_CreateOnlyOverEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, sid, "t1", KindPlan, "", ModeOverwrite)
	require.NoError(t, err)
	a, err := s.Write(ctx, sid, "t1", KindPlan, "real plan", ModeCreateOnly)
	require.NoError(t, err)
	assert.Equal(t, "real plan", a.Content)
}

func TestWrite_AppendOnlyForProgress(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(context.Background(), sid, "t1", KindScratchpad, "x", ModeAppend)
	assert.Error(t, err)
}

func TestWrite_AppendEmptyRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(context.Background(), sid, "t1", KindProgress, "", ModeAppend)
	assert.ErrorIs(t, err, ErrEmptyEntry)
}

func TestWrite_AppendEntries(t *testing.T) {
	s := newTestStore(t, WithProgressPreamble(func(task, sessionID string) string {
		return "# " + task + " progress\n\n"
	}))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		a, err := s.Write(ctx, sid, "t1", KindProgress, fmt.Sprintf("step %d", i), ModeAppend)
		require.NoError(t, err)
		assert.Equal(t, i, a.Entries)
	}

	a, err := s.Read(ctx, sid, "t1", KindProgress)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Content, "# t1 progress\n\n"))

	preamble, entries, err := ParseProgress(a.Content)
	require.NoError(t, err)
	assert.Equal(t, "# t1 progress\n\n", preamble)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Seq)
		assert.Equal(t, fmt.Sprintf("step %d", i+1), e.Content)
		assert.Equal(t, timeNow(), e.At)
	}
}

func TestWrite_InvalidInputs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, sid, "", KindPlan, "x", ModeOverwrite)
	assert.ErrorIs(t, err, ErrInvalidTask)
	_, err = s.Write(ctx, sid, AllTasks, KindPlan, "x", ModeOverwrite)
	assert.ErrorIs(t, err, ErrInvalidTask)
	_, err = s.Write(ctx, sid, "t", Kind("notes"), "x", ModeOverwrite)
	assert.Error(t, err)
	_, err = s.Write(ctx, sid, "t", KindPlan, "x", Mode("upsert"))
	assert.Error(t, err)
}

func TestWrite_TaskNameCannotEscapeSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(context.Background(), sid, "../../outside", KindScratchpad, "x", ModeOverwrite)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(s.Root(), "sessions", sid))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	_, err = os.Stat(filepath.Join(s.Root(), "outside"))
	assert.True(t, os.IsNotExist(err))
}

func TestWrite_LongestTaskName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	longSID := strings.Repeat("0", 40)
	task := strings.Repeat("a", MaxTaskNameLen)

	_, err := s.Write(ctx, longSID, task, KindScratchpad, "notes", ModeOverwrite)
	require.NoError(t, err)
	_, err = s.Write(ctx, longSID, task, KindPlan, "plan", ModeCreateOnly)
	require.NoError(t, err)
	_, err = s.Write(ctx, longSID, task, KindProgress, "step", ModeAppend)
	require.NoError(t, err)

	a, err := s.Read(ctx, longSID, task, KindScratchpad)
	require.NoError(t, err)
	assert.Equal(t, "notes", a.Content)

	var tasks []string
	for name, err := range s.ListTasks(ctx, longSID) {
		require.NoError(t, err)
		tasks = append(tasks, name)
	}
	assert.Equal(t, []string{task}, tasks)

	_, err = s.Write(ctx, longSID, task+"a", KindScratchpad, "x", ModeOverwrite)
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestWrite_MultiByteTaskName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fits := strings.Repeat("数", 22) // 66 bytes, 198 escaped
	_, err := s.Write(ctx, sid, fits, KindScratchpad, "notes", ModeOverwrite)
	require.NoError(t, err)
	a, err := s.Read(ctx, sid, fits, KindScratchpad)
	require.NoError(t, err)
	assert.Equal(t, "notes", a.Content)

	tooLong := strings.Repeat("数", 25) // 75 bytes, 225 escaped
	_, err = s.Write(ctx, sid, tooLong, KindScratchpad, "notes", ModeOverwrite)
	assert.ErrorIs(t, err, ErrInvalidTask)
	_, err = s.Read(ctx, sid, tooLong, KindScratchpad)
	assert.ErrorIs(t, err, ErrInvalidTask)
	_, err = s.Snapshot(ctx, sid, tooLong)
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestRead_MetadataMatchesContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Write(ctx, sid, "t1", KindScratchpad, "old", ModeOverwrite)
	require.NoError(t, err)
	path := s.Path(sid, "t1", KindScratchpad)

	// Replace the file right after it is opened.
	openFile = func(name string) (*os.File, error) {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		require.NoError(t, os.WriteFile(name+".new", []byte("a much longer replacement"), 0o644))
		require.NoError(t, os.Rename(name+".new", name))
		return f, nil
	}
	t.Cleanup(func() { openFile = os.Open })

	a, err := s.Read(ctx, sid, "t1", KindScratchpad)
	require.NoError(t, err)
	assert.Equal(t, "old", a.Content)
	assert.Equal(t, int64(len("old")), a.Size)

	openFile = os.Open
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len("a much longer replacement")), fi.Size())
}

// --- Snapshot ---

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, err := s.Snapshot(ctx, sid, "t1")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	_, err = s.Write(ctx, sid, "t1", KindScratchpad, "notes", ModeOverwrite)
	require.NoError(t, err)
	_, err = s.Write(ctx, sid, "t1", KindPlan, "plan", ModeCreateOnly)
	require.NoError(t, err)

	snap, err = s.Snapshot(ctx, sid, "t1")
	require.NoError(t, err)
	assert.True(t, snap.Exists())
	assert.Equal(t, "notes", snap.Get(KindScratchpad).Content)
	assert.Equal(t, "plan", snap.Get(KindPlan).Content)
	assert.Nil(t, snap.Get(KindProgress))
}

// --- ListTasks ---

func TestListTasks_DedupesAndSorts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, task := range []string{"zeta", "alpha", "with space"} {
		_, err := s.Write(ctx, sid, task, KindScratchpad, "x", ModeOverwrite)
		require.NoError(t, err)
	}
	_, err := s.Write(ctx, sid, "alpha", KindPlan, "p", ModeCreateOnly)
	require.NoError(t, err)

	// Noise that must be ignored.
	dir := filepath.Join(s.Root(), "sessions", sid)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.other.plan.md"), []byte("x"), 0o644))

	var got []string
	for name, err := range s.ListTasks(ctx, sid) {
		require.NoError(t, err)
		got = append(got, name)
	}
	assert.Equal(t, []string{"alpha", "with space", "zeta"}, got)

	// Restartable.
	var again []string
	for name, err := range s.ListTasks(ctx, sid) {
		require.NoError(t, err)
		again = append(again, name)
	}
	assert.Equal(t, got, again)
}

func TestListTasks_MissingSession(t *testing.T) {
	s := newTestStore(t)
	n := 0
	for range s.ListTasks(context.Background(), "nope") {
		n++
	}
	assert.Zero(t, n)
}
