package fsutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
)

// ErrLockTimeout is wrapped when a file lock could not be acquired in time.
var ErrLockTimeout = errors.New("file lock timeout")

const lockPollInterval = 50 * time.Millisecond

// FileLock is a held exclusive advisory lock on a lock file.
type FileLock struct {
	fl *flock.Flock
}

// Lock acquires an exclusive lock on path, waiting at most timeout.
// The lock file and its parent directory are created if needed.
func Lock(ctx context.Context, path string, timeout time.Duration) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create lock directory").
			WithContext("path", path).Build()
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(path)
	ok, err := fl.TryLockContext(lockCtx, lockPollInterval)
	if ok {
		return &FileLock{fl: fl}, nil
	}
	_ = fl.Close()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "lock file").
			WithContext("path", path).Build()
	}
	return nil, ferrors.WrapError(ErrLockTimeout, ferrors.CategoryLock, fmt.Sprintf("could not lock %s within %s", path, timeout)).
		WithContext("path", path).
		Retryable().
		Build()
}

// TryLock acquires an exclusive lock on path without waiting. It returns a nil
// lock and no error when another process or descriptor holds it.
func TryLock(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create lock directory").
			WithContext("path", path).Build()
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		_ = fl.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "lock file").
			WithContext("path", path).Build()
	}
	if !ok {
		_ = fl.Close()
		return nil, nil
	}
	return &FileLock{fl: fl}, nil
}

// Unlock releases the lock. The lock file is left in place.
func (l *FileLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

// WithLock runs fn while holding the lock on path.
func WithLock(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	l, err := Lock(ctx, path, timeout)
	if err != nil {
		return err
	}
	defer func() { _ = l.Unlock() }()
	return fn()
}
