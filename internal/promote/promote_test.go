package promote

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/coursebuilder/internal/buildlog"
	"git.home.luguber.info/inful/coursebuilder/internal/courseconfig"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/coursebuilder/internal/fsutil"
	"git.home.luguber.info/inful/coursebuilder/internal/testutil"
)

type fakeGraders struct {
	configureErrs []string
	publishErrs   []string
	published     []string
}

func (f *fakeGraders) Configure(context.Context, *courseconfig.CourseConfig) (map[string]any, []string) {
	return map[string]any{"hello": map[string]any{"max_points": 5}}, f.configureErrs
}

func (f *fakeGraders) Publish(_ context.Context, cfg *courseconfig.CourseConfig) []string {
	f.published = append(f.published, cfg.VersionID)
	return f.publishErrs
}

func newPromoter(t *testing.T, g *fakeGraders) *Promoter {
	t.Helper()
	root := t.TempDir()
	return &Promoter{
		Layout: courseconfig.Layout{
			BuildRoot:   filepath.Join(root, "build"),
			StoreRoot:   filepath.Join(root, "store"),
			PublishRoot: filepath.Join(root, "publish"),
		},
		Graders:     g,
		Cache:       courseconfig.NewCache(),
		LockTimeout: time.Second,
		StaticRoot:  filepath.Join(root, "static"),
	}
}

func waitAsync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fsutil.WaitAsync(ctx))
}

// build writes a course into BUILD with the given version and loads it.
func build(t *testing.T, p *Promoter, version string, extra map[string]string) *courseconfig.CourseConfig {
	t.Helper()
	dir := p.Layout.Dir("c1", courseconfig.StageBuild)
	require.NoError(t, os.RemoveAll(dir))
	files := testutil.MinimalCourse()
	for k, v := range extra {
		files[k] = v
	}
	testutil.WriteFiles(t, dir, files)
	require.NoError(t, os.WriteFile(p.Layout.VersionPath("c1", courseconfig.StageBuild), []byte(version), 0o644))
	cfg, err := courseconfig.Load(p.Layout, "c1", courseconfig.StageBuild)
	require.NoError(t, err)
	return cfg
}

func store(t *testing.T, p *Promoter, cfg *courseconfig.CourseConfig) (bool, *buildlog.Sink) {
	t.Helper()
	sink := buildlog.NewSink()
	ok, err := p.Store(context.Background(), sink.Logger(nil), buildlog.NewPerf(nil), cfg)
	require.NoError(t, err)
	return ok, sink
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestStoreCopiesBuiltCourse(t *testing.T) {
	p := newPromoter(t, &fakeGraders{})
	cfg := build(t, p, "v1", map[string]string{"meta.yaml": "build_image: x\n", "notes.txt": "private"})

	// Leftovers from a previous store are removed.
	testutil.WriteFiles(t, p.Layout.Dir("c1", courseconfig.StageStore), map[string]string{"old.txt": "x", "_build/html/old.html": "x"})

	ok, _ := store(t, p, cfg)
	require.True(t, ok)

	storeDir := p.Layout.Dir("c1", courseconfig.StageStore)
	assert.FileExists(t, filepath.Join(storeDir, "index.yaml"))
	assert.FileExists(t, filepath.Join(storeDir, "meta.yaml"))
	assert.FileExists(t, filepath.Join(storeDir, "exercises", "hello", "config.yaml"))
	assert.FileExists(t, filepath.Join(storeDir, "exercises", "hello", "hello.py"))
	assert.FileExists(t, filepath.Join(storeDir, "_build", "html", "index.html"))
	assert.NoFileExists(t, filepath.Join(storeDir, "_build", "html", "old.html"))
	assert.NoFileExists(t, filepath.Join(storeDir, "old.txt"))
	assert.NoFileExists(t, filepath.Join(storeDir, "notes.txt"))
	assert.Equal(t, "v1", readFile(t, p.Layout.VersionPath("c1", courseconfig.StageStore)))
	assert.JSONEq(t, `{"hello": {"max_points": 5}}`, readFile(t, p.Layout.DefaultsPath("c1", courseconfig.StageStore)))
	assert.NotNil(t, p.Cache.Get("c1", courseconfig.StageStore))
}

func TestStoreWarnsAboutMissingFiles(t *testing.T) {
	p := newPromoter(t, &fakeGraders{})
	cfg := build(t, p, "v1", nil)
	require.NoError(t, os.Remove(filepath.Join(cfg.Dir, "exercises", "hello", "hello.py")))

	ok, sink := store(t, p, cfg)
	assert.True(t, ok)
	assert.Contains(t, sink.String(), "WARNING: Couldn't find file 'exercises/hello/hello.py'")
}

func TestStoreRejectedByGraders(t *testing.T) {
	p := newPromoter(t, &fakeGraders{configureErrs: []string{"bad exercise"}})
	cfg := build(t, p, "v1", nil)

	ok, sink := store(t, p, cfg)
	assert.False(t, ok)
	assert.Contains(t, sink.String(), "ERROR: bad exercise")
	assert.NoDirExists(t, p.Layout.Dir("c1", courseconfig.StageStore))
}

func TestStoreLockTimeout(t *testing.T) {
	p := newPromoter(t, &fakeGraders{})
	p.LockTimeout = 100 * time.Millisecond
	cfg := build(t, p, "v1", nil)

	held, err := fsutil.Lock(context.Background(), p.Layout.LockPath("c1", courseconfig.StageStore), time.Second)
	require.NoError(t, err)
	defer func() { _ = held.Unlock() }()

	sink := buildlog.NewSink()
	ok, err := p.Store(context.Background(), sink.Logger(nil), buildlog.NewPerf(nil), cfg)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fsutil.ErrLockTimeout))
}

func TestPublishPromotesAndIsIdempotent(t *testing.T) {
	g := &fakeGraders{}
	p := newPromoter(t, g)
	ok, _ := store(t, p, build(t, p, "v1", nil))
	require.True(t, ok)

	errs, err := p.Publish(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, errs)
	waitAsync(t)

	publishDir := p.Layout.Dir("c1", courseconfig.StagePublish)
	assert.FileExists(t, filepath.Join(publishDir, "index.yaml"))
	assert.Equal(t, "v1", readFile(t, p.Layout.VersionPath("c1", courseconfig.StagePublish)))
	assert.FileExists(t, p.Layout.DefaultsPath("c1", courseconfig.StagePublish))
	// Copied back so the next store has something to compare against.
	assert.Equal(t, "v1", readFile(t, p.Layout.VersionPath("c1", courseconfig.StageStore)))
	assert.FileExists(t, filepath.Join(p.Layout.Dir("c1", courseconfig.StageStore), "index.yaml"))

	link, err := os.Readlink(filepath.Join(p.StaticRoot, "c1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(publishDir, "_build", "html"), link)

	// Publishing again without a new store changes nothing.
	errs, err = p.Publish(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, errs)
	waitAsync(t)
	assert.Equal(t, "v1", readFile(t, p.Layout.VersionPath("c1", courseconfig.StagePublish)))
	assert.Equal(t, []string{"v1", "v1"}, g.published)
	assert.NotNil(t, p.Cache.Get("c1", courseconfig.StagePublish))
}

func TestPublishNewVersion(t *testing.T) {
	p := newPromoter(t, &fakeGraders{})
	ok, _ := store(t, p, build(t, p, "v1", nil))
	require.True(t, ok)
	_, err := p.Publish(context.Background(), "c1")
	require.NoError(t, err)
	waitAsync(t)

	ok, _ = store(t, p, build(t, p, "v2", map[string]string{"_build/html/new.html": "new"}))
	require.True(t, ok)
	_, err = p.Publish(context.Background(), "c1")
	require.NoError(t, err)
	waitAsync(t)

	assert.Equal(t, "v2", readFile(t, p.Layout.VersionPath("c1", courseconfig.StagePublish)))
	assert.FileExists(t, filepath.Join(p.Layout.Dir("c1", courseconfig.StagePublish), "_build", "html", "new.html"))
	assert.NoDirExists(t, p.Layout.Dir("c1", courseconfig.StagePublish)+".prev")
}

func TestPublishInterruptedPromotionIsRetried(t *testing.T) {
	p := newPromoter(t, &fakeGraders{})
	ok, _ := store(t, p, build(t, p, "v1", nil))
	require.True(t, ok)

	renames = func(moves []fsutil.Move) error {
		if err := fsutil.Renames(moves[:1]); err != nil {
			return err
		}
		return errors.New("interrupted")
	}
	t.Cleanup(func() { renames = fsutil.Renames })

	_, err := p.Publish(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryFileSystem))
	assert.NoFileExists(t, p.Layout.VersionPath("c1", courseconfig.StagePublish))
	assert.DirExists(t, p.Layout.Dir("c1", courseconfig.StageStore))

	renames = fsutil.Renames
	errs, err := p.Publish(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, errs)
	waitAsync(t)
	assert.Equal(t, "v1", readFile(t, p.Layout.VersionPath("c1", courseconfig.StagePublish)))
	assert.FileExists(t, p.Layout.DefaultsPath("c1", courseconfig.StagePublish))
}

func TestPublishKeepsNewerStore(t *testing.T) {
	p := newPromoter(t, &fakeGraders{})
	ok, _ := store(t, p, build(t, p, "v1", nil))
	require.True(t, ok)

	storeDir := p.Layout.Dir("c1", courseconfig.StageStore)
	storeVersion := p.Layout.VersionPath("c1", courseconfig.StageStore)
	// A newer build lands in STORE right after the promotion.
	renames = func(moves []fsutil.Move) error {
		if err := fsutil.Renames(moves); err != nil {
			return err
		}
		assert.False(t, p.storedSincePromotion("c1"))
		testutil.WriteFiles(t, storeDir, map[string]string{"index.yaml": "name: newer\n"})
		return os.WriteFile(storeVersion, []byte("v2"), 0o644)
	}
	t.Cleanup(func() { renames = fsutil.Renames })

	errs, err := p.Publish(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, errs)
	waitAsync(t)

	assert.Equal(t, "v1", readFile(t, p.Layout.VersionPath("c1", courseconfig.StagePublish)))
	assert.Equal(t, "v2", readFile(t, storeVersion))
	assert.Equal(t, "name: newer\n", readFile(t, filepath.Join(storeDir, "index.yaml")))
	assert.NoFileExists(t, p.Layout.DefaultsPath("c1", courseconfig.StageStore))
}

func TestPublishErrors(t *testing.T) {
	t.Run("never built", func(t *testing.T) {
		p := newPromoter(t, &fakeGraders{})
		_, err := p.Publish(context.Background(), "c1")
		require.Error(t, err)
		assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
		assert.Contains(t, err.Error(), "the course probably has not been built")
	})

	t.Run("broken store without published copy", func(t *testing.T) {
		p := newPromoter(t, &fakeGraders{})
		testutil.WriteFiles(t, p.Layout.Dir("c1", courseconfig.StageStore), map[string]string{"index.yaml": "name: [unterminated"})
		_, err := p.Publish(context.Background(), "c1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Failed to load newly built course for this reason")
	})

	t.Run("broken store keeps published copy", func(t *testing.T) {
		p := newPromoter(t, &fakeGraders{publishErrs: []string{"grader offline"}})
		ok, _ := store(t, p, build(t, p, "v1", nil))
		require.True(t, ok)
		_, err := p.Publish(context.Background(), "c1")
		require.NoError(t, err)
		waitAsync(t)

		testutil.WriteFiles(t, p.Layout.Dir("c1", courseconfig.StageStore), map[string]string{"index.yaml": "name: [unterminated"})
		require.NoError(t, os.WriteFile(p.Layout.VersionPath("c1", courseconfig.StageStore), []byte("v2"), 0o644))

		errs, err := p.Publish(context.Background(), "c1")
		require.NoError(t, err)
		require.Len(t, errs, 2)
		assert.Contains(t, errs[0], "Failed to load newly built course")
		assert.Equal(t, "grader offline", errs[1])
		assert.Equal(t, "v1", readFile(t, p.Layout.VersionPath("c1", courseconfig.StagePublish)))
	})
}

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	os.Exit(m.Run())
}
