package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Mirror makes dst an exact copy of src. Files whose size and mtime already
// match are left untouched; entries absent from src are deleted. A missing src
// mirrors as an empty tree.
func Mirror(src, dst string) error {
	srcInfo, err := os.Stat(src)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		return os.MkdirAll(dst, 0o755)
	case err != nil:
		return err
	case !srcInfo.IsDir():
		return CopyFile(src, dst)
	}

	if info, err := os.Lstat(dst); err == nil && !info.IsDir() {
		if err := os.Remove(dst); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	seen := map[string]bool{}
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}
		seen[rel] = true
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			if info, err := os.Lstat(target); err == nil && !info.IsDir() {
				if err := os.Remove(target); err != nil {
					return err
				}
			}
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, target)
		default:
			if unchanged(path, target) {
				return nil
			}
			if info, err := os.Lstat(target); err == nil && info.IsDir() {
				if err := os.RemoveAll(target); err != nil {
					return err
				}
			}
			return CopyFile(path, target)
		}
	})
	if err != nil {
		return err
	}
	return deleteExtraneous(dst, seen)
}

func unchanged(src, dst string) bool {
	a, err := os.Lstat(src)
	if err != nil {
		return false
	}
	b, err := os.Lstat(dst)
	if err != nil || !b.Mode().IsRegular() {
		return false
	}
	return a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

func deleteExtraneous(dst string, keep map[string]bool) error {
	var extra []string
	err := filepath.WalkDir(dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dst, path)
		if err != nil || rel == "." {
			return err
		}
		if !keep[rel] {
			extra = append(extra, path)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range extra {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return nil
}

// RemoveExcept deletes everything under dir except the path keep and its
// ancestors. When keep equals dir nothing is removed.
func RemoveExcept(dir, keep string) error {
	dir = filepath.Clean(dir)
	keep = filepath.Clean(keep)
	if keep == dir {
		return nil
	}
	if !IsSubpath(keep, dir) {
		return os.RemoveAll(dir)
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		switch {
		case p == keep:
			continue
		case e.IsDir() && IsSubpath(keep, p):
			if err := RemoveExcept(p, keep); err != nil {
				return err
			}
		default:
			if err := os.RemoveAll(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsSubpath reports whether path equals root or lies beneath it. Both are compared lexically.
func IsSubpath(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
