//go:build linux

package fsutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

// exchange atomically swaps src and dst. It reports false when the
// filesystem cannot exchange, so the caller falls back to two renames.
func exchange(src, dst string) (bool, error) {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_EXCHANGE)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL), errors.Is(err, unix.EOPNOTSUPP):
		return false, nil
	default:
		return false, err
	}
}
