package git

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
	"git.home.luguber.info/inful/coursebuilder/internal/testutil"
)

func bufLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestSyncClonesThenReportsChangedFiles(t *testing.T) {
	origin := testutil.NewRepo(t)
	first := origin.Commit("initial", map[string]string{"index.yaml": "name: c\n", "a.rst": "a"})

	s := NewSynchronizer(config.GitConfig{})
	dir := filepath.Join(t.TempDir(), "build", "c")
	log, _ := bufLogger()
	req := Request{Dir: dir, Origin: origin.Dir, Branch: "master"}

	res := s.Sync(context.Background(), log, req)
	require.True(t, res.OK)
	assert.False(t, res.Known, "fresh clone has no changed-file information")
	assert.Equal(t, first, CommitHashOrEmpty(dir))

	second := origin.Commit("edit", map[string]string{"a.rst": "a2", "b/new.rst": "b"})
	req.LastCommit = first
	res = s.Sync(context.Background(), log, req)
	require.True(t, res.OK)
	require.True(t, res.Known)
	assert.Equal(t, []string{"a.rst", "b/new.rst"}, res.Changed)
	assert.Equal(t, second, CommitHashOrEmpty(dir))

	data, err := os.ReadFile(filepath.Join(dir, "a.rst"))
	require.NoError(t, err)
	assert.Equal(t, "a2", string(data))
}

func TestSyncDiscardsLocalChanges(t *testing.T) {
	origin := testutil.NewRepo(t)
	origin.Commit("initial", map[string]string{"a.rst": "a"})

	s := NewSynchronizer(config.GitConfig{})
	dir := filepath.Join(t.TempDir(), "c")
	log, _ := bufLogger()
	require.True(t, s.Sync(context.Background(), log, Request{Dir: dir, Origin: origin.Dir, Branch: "master"}).OK)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rst"), []byte("dirty"), 0o644))
	res := s.Sync(context.Background(), log, Request{Dir: dir, Origin: origin.Dir, Branch: "master"})
	require.True(t, res.OK)
	data, err := os.ReadFile(filepath.Join(dir, "a.rst"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestSyncUnknownLastCommitDowngrades(t *testing.T) {
	origin := testutil.NewRepo(t)
	origin.Commit("initial", map[string]string{"a.rst": "a"})

	s := NewSynchronizer(config.GitConfig{})
	dir := filepath.Join(t.TempDir(), "c")
	log, buf := bufLogger()
	require.True(t, s.Sync(context.Background(), log, Request{Dir: dir, Origin: origin.Dir, Branch: "master"}).OK)

	res := s.Sync(context.Background(), log, Request{Dir: dir, Origin: origin.Dir, Branch: "master", LastCommit: "0123456789abcdef0123456789abcdef01234567"})
	require.True(t, res.OK)
	assert.False(t, res.Known)
	assert.Contains(t, buf.String(), "Could not compute changed files")
}

func TestSyncFailures(t *testing.T) {
	s := NewSynchronizer(config.GitConfig{})
	log, buf := bufLogger()

	res := s.Sync(context.Background(), log, Request{Dir: filepath.Join(t.TempDir(), "c"), Origin: filepath.Join(t.TempDir(), "missing"), Branch: "master"})
	assert.False(t, res.OK)
	assert.Contains(t, buf.String(), "Failed to clone repository")

	origin := testutil.NewRepo(t)
	origin.Commit("initial", map[string]string{"a.rst": "a"})
	dir := filepath.Join(t.TempDir(), "c")
	require.True(t, s.Sync(context.Background(), log, Request{Dir: dir, Origin: origin.Dir, Branch: "master"}).OK)
	res = s.Sync(context.Background(), log, Request{Dir: dir, Origin: origin.Dir, Branch: "nope"})
	assert.False(t, res.OK)
}

func TestSyncLocalCopy(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.yaml"), []byte("name: c"), 0o644))

	dir := filepath.Join(t.TempDir(), "c")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("x"), 0o644))

	log, _ := bufLogger()
	res := NewSynchronizer(config.GitConfig{}).Sync(context.Background(), log, Request{Dir: dir, LocalSource: src})
	require.True(t, res.OK)
	assert.False(t, res.Known)
	assert.FileExists(t, filepath.Join(dir, "index.yaml"))
	assert.NoFileExists(t, filepath.Join(dir, "stale"))
	assert.NoDirExists(t, filepath.Join(dir, ".git"))
}

func TestCommitMetadata(t *testing.T) {
	origin := testutil.NewRepo(t)
	h := origin.Commit("Add exercises\n\nLonger body", map[string]string{"a": "a"})

	meta, err := CommitMetadata(origin.Dir)
	require.NoError(t, err)
	assert.Contains(t, meta, "commit "+h)
	assert.Contains(t, meta, "Author: Test Author <author@example.com>")
	assert.Contains(t, meta, "    Add exercises")

	_, err = CommitMetadata(t.TempDir())
	assert.Error(t, err)
	assert.Empty(t, CommitHashOrEmpty(t.TempDir()))
}

func TestCleanKeepsExcludedAndTracked(t *testing.T) {
	origin := testutil.NewRepo(t)
	origin.Commit("initial", map[string]string{"index.yaml": "name: c\n", "src/page.rst": "p"})

	dir := filepath.Join(t.TempDir(), "c")
	log, _ := bufLogger()
	require.True(t, NewSynchronizer(config.GitConfig{}).Sync(context.Background(), log, Request{Dir: dir, Origin: origin.Dir, Branch: "master"}).OK)

	write := func(rel, content string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("src/page.rst", "modified")
	write("_build/html/index.html", "built")
	write("cache/x.pickle", "c")
	write("src/tmp.pyc", "c")
	write("notes.txt", "n")
	require.NoError(t, os.Remove(filepath.Join(dir, "index.yaml")))

	require.NoError(t, Clean(dir, origin.Dir, []string{"cache", "*.pyc"}))

	data, err := os.ReadFile(filepath.Join(dir, "src", "page.rst"))
	require.NoError(t, err)
	assert.Equal(t, "p", string(data))
	assert.NoDirExists(t, filepath.Join(dir, "_build"))
	assert.NoFileExists(t, filepath.Join(dir, "notes.txt"))
	assert.FileExists(t, filepath.Join(dir, "cache", "x.pickle"))
	assert.FileExists(t, filepath.Join(dir, "src", "tmp.pyc"))
	assert.DirExists(t, filepath.Join(dir, ".git"))
	data, err = os.ReadFile(filepath.Join(dir, "index.yaml"))
	require.NoError(t, err, "deleted tracked files are restored")
	assert.Equal(t, "name: c\n", string(data))

	// A second run leaves the cleaned tree as it is.
	require.NoError(t, Clean(dir, origin.Dir, []string{"cache", "*.pyc"}))
	assert.FileExists(t, filepath.Join(dir, "cache", "x.pickle"))
	assert.FileExists(t, filepath.Join(dir, "src", "page.rst"))

	assert.NoError(t, Clean(t.TempDir(), "", nil), "local-copy courses are not cleaned")
}

func TestCleanReplacesDirectoryAtTrackedPath(t *testing.T) {
	origin := testutil.NewRepo(t)
	origin.Commit("initial", map[string]string{"index.yaml": "name: c\n"})

	dir := filepath.Join(t.TempDir(), "c")
	log, _ := bufLogger()
	require.True(t, NewSynchronizer(config.GitConfig{}).Sync(context.Background(), log, Request{Dir: dir, Origin: origin.Dir, Branch: "master"}).OK)

	require.NoError(t, os.Remove(filepath.Join(dir, "index.yaml")))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "index.yaml", "nested"), 0o755))

	require.NoError(t, Clean(dir, origin.Dir, nil))
	data, err := os.ReadFile(filepath.Join(dir, "index.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "name: c\n", string(data))
}
