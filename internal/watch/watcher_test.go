package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/jobs"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
	"git.home.luguber.info/inful/coursebuilder/internal/records"
)

type enqueuer struct {
	mu   sync.Mutex
	keys []string
}

func (e *enqueuer) Enqueue(key string, _ pipeline.Options) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys = append(e.keys, key)
	return "id", nil
}

func (e *enqueuer) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.keys...)
}

func setup(t *testing.T) (*Watcher, string, *records.SQLiteStore, *enqueuer) {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	store, err := records.NewSQLiteStore(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	local, err := course.New("local")
	require.NoError(t, err)
	require.NoError(t, store.CreateCourse(ctx, local))
	remote, err := course.New("remote")
	require.NoError(t, err)
	remote.GitOrigin = "https://example.invalid/remote.git"
	require.NoError(t, store.CreateCourse(ctx, remote))

	for _, key := range []string{"local", "remote"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, key, "src"), 0o755))
	}

	q := &enqueuer{}
	w, err := New(root, 50*time.Millisecond, store, &jobs.Trigger{Records: store, Queue: q}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return w, root, store, q
}

func TestCourseKey(t *testing.T) {
	w := &Watcher{root: "/src"}
	assert.Equal(t, "c1", w.courseKey("/src/c1/index.yaml"))
	assert.Equal(t, "c1", w.courseKey("/src/c1"))
	assert.Equal(t, "", w.courseKey("/src"))
	assert.Equal(t, "", w.courseKey("/other/c1"))
	assert.Equal(t, "", w.courseKey("/src/c1/.git/index"))
	assert.Equal(t, "", w.courseKey("/src/.hidden"))
}

func TestChangesAreDebouncedPerCourse(t *testing.T) {
	w, root, store, q := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	for i := range 5 {
		require.NoError(t, os.WriteFile(filepath.Join(root, "local", "src", "a.txt"), []byte{byte(i)}, 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "remote", "src", "a.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return len(q.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"local"}, q.snapshot())

	pending, err := store.ListUpdates(context.Background(), "local", course.UpdateQuery{Status: course.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, RequestIP, pending[0].RequestIP)
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	w, root, _, q := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	nested := filepath.Join(root, "local", "new", "deeper")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.Eventually(t, func() bool { return len(q.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)

	// Give the watcher a moment to register the new directory, then change a file in it.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(nested, "f.txt"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return len(q.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)
}
