package git

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Clean removes untracked files in dir and restores tracked files that differ
// from HEAD. Paths matched by excludePatterns are left untouched, tracked or
// not. Courses without an origin are left alone.
func Clean(dir, origin string, excludePatterns []string) error {
	if origin == "" {
		return nil
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("read HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("read HEAD tree: %w", err)
	}

	tracked := map[string]*object.File{}
	trackedDirs := map[string]bool{}
	err = tree.Files().ForEach(func(f *object.File) error {
		tracked[f.Name] = f
		for d := path.Dir(f.Name); d != "."; d = path.Dir(d) {
			trackedDirs[d] = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list HEAD files: %w", err)
	}

	seen := map[string]bool{}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ".git" || excluded(rel, excludePatterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if trackedDirs[rel] {
				return nil
			}
			if err := os.RemoveAll(p); err != nil {
				return err
			}
			return filepath.SkipDir
		}
		f, ok := tracked[rel]
		if !ok {
			return os.Remove(p)
		}
		seen[rel] = true
		same, err := matchesBlob(p, f)
		if err != nil || same {
			return err
		}
		return restore(p, f)
	})
	if err != nil {
		return err
	}

	for rel, f := range tracked {
		if seen[rel] || excluded(rel, excludePatterns) {
			continue
		}
		if err := restore(filepath.Join(dir, filepath.FromSlash(rel)), f); err != nil {
			return err
		}
	}
	return nil
}

// matchesBlob reports whether the file at p has the content and type of f.
func matchesBlob(p string, f *object.File) (bool, error) {
	info, err := os.Lstat(p)
	if err != nil {
		return false, err
	}
	var data []byte
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		if f.Mode != filemode.Symlink {
			return false, nil
		}
		target, err := os.Readlink(p)
		if err != nil {
			return false, err
		}
		data = []byte(target)
	case f.Mode == filemode.Symlink:
		return false, nil
	default:
		if data, err = os.ReadFile(p); err != nil {
			return false, err
		}
	}
	return plumbing.ComputeHash(plumbing.BlobObject, data) == f.Hash, nil
}

// restore rewrites p with the HEAD version of f.
func restore(p string, f *object.File) error {
	content, err := f.Contents()
	if err != nil {
		return fmt.Errorf("read %s from HEAD: %w", f.Name, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if f.Mode == filemode.Symlink {
		return os.Symlink(content, p)
	}
	perm := fs.FileMode(0o644)
	if f.Mode == filemode.Executable {
		perm = 0o755
	}
	return os.WriteFile(p, []byte(content), perm)
}

// excluded matches rel against each pattern as a glob on the full path, on
// the base name, and as a directory prefix.
func excluded(rel string, patterns []string) bool {
	for _, pat := range patterns {
		pat = strings.Trim(pat, "/")
		if pat == "" {
			continue
		}
		if rel == pat || strings.HasPrefix(rel, pat+"/") {
			return true
		}
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		if ok, _ := path.Match(pat, path.Base(rel)); ok {
			return true
		}
	}
	return false
}
