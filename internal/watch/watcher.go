// Package watch requests updates of local-copy courses when their source
// tree under the local source directory changes.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/jobs"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
)

// RequestIP is recorded on updates created by the watcher.
const RequestIP = "watcher"

const defaultDebounce = 2 * time.Second

// Watcher monitors the local source root recursively.
type Watcher struct {
	root     string
	debounce time.Duration
	records  course.Store
	trigger  *jobs.Trigger
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	mu       sync.Mutex
	timers   map[string]*time.Timer
	stopChan chan struct{}
	stopOnce sync.Once
	started  bool
	done     chan struct{}
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, debounce time.Duration, records course.Store, trigger *jobs.Trigger, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local source path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:     abs,
		debounce: debounce,
		records:  records,
		trigger:  trigger,
		logger:   logger,
		watcher:  w,
		timers:   map[string]*time.Timer{},
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start registers every directory below root and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	w.logger.Info("Watching local course sources", logfields.Path(w.root))
	w.started = true
	go w.loop(ctx)
	return nil
}

// Stop ends watching and cancels pending debounced requests.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}

	w.mu.Lock()
	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Local source watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", logfields.Path(event.Name), logfields.Error(err))
			}
		}
	}
	key := w.courseKey(event.Name)
	if key == "" {
		return
	}
	w.logger.Debug("Local source change detected", logfields.Course(key), logfields.Path(event.Name), slog.String("op", event.Op.String()))
	w.schedule(ctx, key)
}

// courseKey is the first path segment of name below root, or "" for
// paths outside any course or inside a .git directory.
func (w *Watcher) courseKey(name string) string {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, p := range parts {
		if p == ".git" {
			return ""
		}
	}
	if len(parts) == 1 && strings.HasPrefix(parts[0], ".") {
		return ""
	}
	return parts[0]
}

func (w *Watcher) schedule(ctx context.Context, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, key)
		w.mu.Unlock()
		w.request(ctx, key)
	})
}

func (w *Watcher) request(ctx context.Context, key string) {
	select {
	case <-w.stopChan:
		return
	default:
	}
	c, err := w.records.GetCourse(ctx, key)
	if err != nil {
		w.logger.Debug("Ignoring change for unknown course", logfields.Course(key), logfields.Error(err))
		return
	}
	if c.GitOrigin != "" {
		return
	}
	_, jobID, err := w.trigger.Request(ctx, key, RequestIP, pipeline.Options{})
	if err != nil {
		w.logger.Error("Failed to request update after source change", logfields.Course(key), logfields.Error(err))
		return
	}
	w.logger.Info("Update requested after source change", logfields.Course(key), logfields.JobID(jobID))
}
