// Package containment verifies that a built course tree has no filesystem
// references escaping its root.
package containment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/coursebuilder/internal/fsutil"
)

// errViolation stops the walk at the first offending entry.
var errViolation = errors.New("containment violation")

// Check walks every non-directory entry under dir. It fails when an entry
// resolves outside dir or is a symlink with an absolute target. The reason
// names the first offending path.
func Check(dir string) (bool, string) {
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve %s: %v", dir, err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return false, err.Error()
	}

	var reason string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if filepath.IsAbs(target) {
				reason = fmt.Sprintf("%s is an absolute symlink: this will break the course", path)
				return errViolation
			}
		}
		if !fsutil.IsSubpath(resolve(path), root) {
			reason = fmt.Sprintf("%s links to a path outside the course directory", path)
			return errViolation
		}
		return nil
	})
	if errors.Is(err, errViolation) {
		return false, reason
	}
	if err != nil {
		return false, fmt.Sprintf("failed to inspect %s: %v", dir, err)
	}
	return true, ""
}

// resolve follows symlinks as far as they exist. The unresolvable remainder
// of a dangling link is joined lexically.
func resolve(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	const maxHops = 40
	current := path
	for i := 0; i < maxHops; i++ {
		info, err := os.Lstat(current)
		if err != nil || info.Mode()&fs.ModeSymlink == 0 {
			break
		}
		target, err := os.Readlink(current)
		if err != nil {
			break
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(resolveDir(filepath.Dir(current)), target)
		}
		current = filepath.Clean(target)
	}
	if real, err := filepath.EvalSymlinks(filepath.Dir(current)); err == nil {
		return filepath.Join(real, filepath.Base(current))
	}
	return current
}

func resolveDir(dir string) string {
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		return real
	}
	return dir
}
