package fsutil

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// backgroundGroup tracks the goroutines this package starts. Work may start
// while a waiter is blocked; the waiter returns once the group is idle.
type backgroundGroup struct {
	mu     sync.Mutex
	active int
	idle   chan struct{} // closed when active drops to zero
}

func (g *backgroundGroup) Go(fn func()) {
	g.mu.Lock()
	if g.active == 0 {
		g.idle = make(chan struct{})
	}
	g.active++
	g.mu.Unlock()

	go func() {
		defer g.done()
		fn()
	}()
}

func (g *backgroundGroup) done() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active--
	if g.active == 0 {
		close(g.idle)
	}
}

// Wait blocks until no goroutine of the group is running or ctx is done.
func (g *backgroundGroup) Wait(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	active := g.active
	g.mu.Unlock()
	if active == 0 {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var background backgroundGroup

// CopyAsync runs Copies in the background while holding the lock on lockPath.
// When skip is non-nil it is evaluated under the lock and a true result
// cancels the copy. Failures are logged. The returned channel is closed when
// the copy finishes.
func CopyAsync(moves []Move, lockPath string, timeout time.Duration, skip func() bool) <-chan struct{} {
	done := make(chan struct{})
	background.Go(func() {
		defer close(done)
		err := WithLock(context.Background(), lockPath, timeout, func() error {
			if skip != nil && skip() {
				slog.Info("Background copy skipped", logfields.Path(lockPath))
				return nil
			}
			return Copies(moves)
		})
		if err != nil {
			slog.Error("Background copy failed", logfields.Path(lockPath), logfields.Error(err))
		}
	})
	return done
}

// WaitAsync blocks until background copies and backup removals have finished or ctx is done.
func WaitAsync(ctx context.Context) error {
	return background.Wait(ctx)
}
