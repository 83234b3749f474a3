package containment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tree(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "course")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "_build", "html"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.yaml"), []byte("name: c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_build", "html", "page.html"), []byte("<p>"), 0o644))
	return dir
}

func TestCleanTreePasses(t *testing.T) {
	dir := tree(t)
	require.NoError(t, os.Symlink("../index.yaml", filepath.Join(dir, "_build", "index-link")))
	require.NoError(t, os.Symlink("html", filepath.Join(dir, "_build", "html-link")))

	ok, reason := Check(dir)
	assert.True(t, ok, reason)
	assert.Empty(t, reason)
}

func TestRelativeEscapeFails(t *testing.T) {
	dir := tree(t)
	outside := filepath.Join(filepath.Dir(dir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("s"), 0o644))
	require.NoError(t, os.Symlink("../../secret.txt", filepath.Join(dir, "_build", "leak")))

	ok, reason := Check(dir)
	assert.False(t, ok)
	assert.Contains(t, reason, "outside the course directory")
	assert.Contains(t, reason, "leak")
}

func TestAbsoluteSymlinkFailsEvenInside(t *testing.T) {
	dir := tree(t)
	require.NoError(t, os.Symlink(filepath.Join(dir, "index.yaml"), filepath.Join(dir, "abs")))

	ok, reason := Check(dir)
	assert.False(t, ok)
	assert.Contains(t, reason, "absolute symlink")
}

func TestDanglingLinks(t *testing.T) {
	dir := tree(t)
	require.NoError(t, os.Symlink("not-built-yet.html", filepath.Join(dir, "_build", "dangling")))
	ok, reason := Check(dir)
	assert.True(t, ok, reason)

	require.NoError(t, os.Symlink("../../../nowhere", filepath.Join(dir, "_build", "escape")))
	ok, _ = Check(dir)
	assert.False(t, ok)
}

func TestMissingDir(t *testing.T) {
	ok, reason := Check(filepath.Join(t.TempDir(), "missing"))
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}
