// Package promote moves a validated build into the STORE stage and from
// there into PUBLISH.
package promote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/buildlog"
	"git.home.luguber.info/inful/coursebuilder/internal/courseconfig"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/coursebuilder/internal/fsutil"
	"git.home.luguber.info/inful/coursebuilder/internal/graders"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// renames is replaced in tests to simulate an interrupted promotion.
var renames = fsutil.Renames

// Promoter owns the STORE and PUBLISH stages of every course.
type Promoter struct {
	Layout      courseconfig.Layout
	Graders     graders.Graders
	Cache       *courseconfig.Cache
	LockTimeout time.Duration
	// StaticRoot is where per-course static symlinks are maintained. Empty disables linking.
	StaticRoot string
	Logger     *slog.Logger
}

func (p *Promoter) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Promoter) graders() graders.Graders {
	if p.Graders != nil {
		return p.Graders
	}
	return graders.Noop{}
}

// Store configures the graders with cfg and copies the built course from its
// build directory into STORE. It returns false when the graders rejected the
// configuration; errors are reserved for lock timeouts and I/O failures.
func (p *Promoter) Store(ctx context.Context, log *slog.Logger, perf *buildlog.Perf, cfg *courseconfig.CourseConfig) (bool, error) {
	key := cfg.Key

	log.Info("Configuring graders...")
	defaults, errs := p.graders().Configure(ctx, cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			log.Error(e)
		}
		return false, nil
	}
	perf.Checkpoint("Configure graders")

	log.Info("Acquiring file lock...")
	err := fsutil.WithLock(ctx, p.Layout.LockPath(key, courseconfig.StageStore), p.LockTimeout, func() error {
		log.Info("File lock acquired.")
		log.Info("Copying the built materials")

		storeDir := p.Layout.Dir(key, courseconfig.StageStore)
		storeStatic := p.Layout.PathTo(key, cfg.Data.StaticDir, courseconfig.StageStore)
		if err := fsutil.RemoveExcept(storeDir, storeStatic); err != nil {
			return ferrors.FileSystemError("failed to clear stored course").WithCause(err).WithContext("path", storeDir).Build()
		}
		perf.Checkpoint("Remove old stored files")

		if err := fsutil.Mirror(cfg.StaticDir(), storeStatic); err != nil {
			return ferrors.FileSystemError("failed to copy static files").WithCause(err).WithContext("path", storeStatic).Build()
		}
		perf.Checkpoint("Copy static files")

		if err := p.copyFiles(log, cfg); err != nil {
			return err
		}

		data, err := json.Marshal(defaults)
		if err != nil {
			return ferrors.InternalError("failed to encode exercise defaults").WithCause(err).Build()
		}
		if err := os.WriteFile(p.Layout.DefaultsPath(key, courseconfig.StageStore), data, 0o644); err != nil {
			return ferrors.FileSystemError("failed to write exercise defaults").WithCause(err).Build()
		}
		if cfg.VersionID != "" {
			if err := os.WriteFile(p.Layout.VersionPath(key, courseconfig.StageStore), []byte(cfg.VersionID), 0o644); err != nil {
				return ferrors.FileSystemError("failed to write version id").WithCause(err).Build()
			}
		}
		perf.Checkpoint("Copy other files")
		return nil
	})
	if err != nil {
		return false, err
	}

	p.Cache.Save(cfg, courseconfig.StageStore)
	return true, nil
}

func (p *Promoter) copyFiles(log *slog.Logger, cfg *courseconfig.CourseConfig) error {
	key := cfg.Key
	if err := fsutil.CopyFile(cfg.File, p.Layout.IndexPath(key, courseconfig.StageStore)); err != nil {
		return ferrors.FileSystemError("failed to copy index").WithCause(err).WithContext("path", cfg.File).Build()
	}

	files := cfg.ExerciseFiles()
	if _, err := os.Stat(filepath.Join(cfg.Dir, courseconfig.MetaFile)); err == nil {
		files = append(files, courseconfig.MetaFile)
	}
	for _, f := range files {
		src := filepath.Join(cfg.Dir, filepath.FromSlash(f))
		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			log.Warn(fmt.Sprintf("Couldn't find file '%s'", f))
			continue
		}
		if err := fsutil.CopyFile(src, p.Layout.PathTo(key, f, courseconfig.StageStore)); err != nil {
			return ferrors.FileSystemError("failed to copy course file").WithCause(err).WithContext("path", f).Build()
		}
	}
	return nil
}

// Publish makes the stored course live when it differs from the published
// one, links its static files and tells the graders to publish. The returned
// messages are non-fatal problems; an error means nothing is published.
func (p *Promoter) Publish(ctx context.Context, key string) ([]string, error) {
	log := p.logger().With(logfields.Course(key))
	l := p.Layout
	storeDir := l.Dir(key, courseconfig.StageStore)
	publishDir := l.Dir(key, courseconfig.StagePublish)

	var (
		cfg  *courseconfig.CourseConfig
		errs []string
	)

	if exists(storeDir) && !sameVersion(l.VersionPath(key, courseconfig.StagePublish), l.VersionPath(key, courseconfig.StageStore)) {
		storeLock := l.LockPath(key, courseconfig.StageStore)
		err := fsutil.WithLock(ctx, storeLock, p.LockTimeout, func() error {
			loaded, err := courseconfig.Load(l, key, courseconfig.StageStore)
			if err != nil {
				msg := fmt.Sprintf("Failed to load newly built course for this reason: %v", err)
				errs = append(errs, msg)
				log.Warn(msg)
				return nil
			}
			moves := []fsutil.Move{
				{Src: storeDir, Dst: publishDir},
				{Src: l.DefaultsPath(key, courseconfig.StageStore), Dst: l.DefaultsPath(key, courseconfig.StagePublish)},
				{Src: l.VersionPath(key, courseconfig.StageStore), Dst: l.VersionPath(key, courseconfig.StagePublish)},
			}
			if err := renames(moves); err != nil {
				restoreStore(log, moves)
				return ferrors.FileSystemError("failed to promote stored course").WithCause(err).WithContext("course", key).Build()
			}
			loaded.Dir = publishDir
			loaded.File = l.IndexPath(key, courseconfig.StagePublish)
			loaded.Stage = courseconfig.StagePublish
			cfg = loaded
			p.Cache.Save(cfg, courseconfig.StagePublish)

			back := make([]fsutil.Move, len(moves))
			for i, m := range moves {
				back[i] = fsutil.Move{Src: m.Dst, Dst: m.Src}
			}
			fsutil.CopyAsync(back, storeLock, p.LockTimeout, func() bool { return p.storedSincePromotion(key) })
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg == nil && exists(publishDir) {
		err := fsutil.WithLock(ctx, l.LockPath(key, courseconfig.StagePublish), p.LockTimeout, func() error {
			loaded, err := courseconfig.Load(l, key, courseconfig.StagePublish)
			if err != nil {
				msg := fmt.Sprintf("Failed to load already published config: %v", err)
				errs = append(errs, msg)
				log.Error(msg)
				return nil
			}
			cfg = loaded
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg == nil {
		if len(errs) > 0 {
			return nil, ferrors.ValidationError(strings.Join(errs, "\n")).WithContext("course", key).Build()
		}
		return nil, ferrors.NotFoundError(fmt.Sprintf("Course directory not found for %s - the course probably has not been built", key)).
			WithContext("course", key).Build()
	}

	if err := courseconfig.LinkStatic(cfg, p.StaticRoot); err != nil {
		errs = append(errs, fmt.Sprintf("Failed to link static files: %v", err))
		log.Error("Failed to link static files", logfields.Error(err))
	}

	errs = append(errs, p.graders().Publish(ctx, cfg)...)
	return errs, nil
}

// storedSincePromotion reports whether STORE was written after its contents
// were promoted. The promotion empties STORE, so anything there is a newer
// build that the copy-back must not overwrite.
func (p *Promoter) storedSincePromotion(key string) bool {
	return exists(p.Layout.Dir(key, courseconfig.StageStore)) ||
		exists(p.Layout.VersionPath(key, courseconfig.StageStore))
}

// restoreStore copies back whatever an interrupted promotion already moved,
// so the next publish sees the stored version again and retries.
func restoreStore(log *slog.Logger, moves []fsutil.Move) {
	var back []fsutil.Move
	for _, m := range moves {
		if !exists(m.Src) && exists(m.Dst) {
			back = append(back, fsutil.Move{Src: m.Dst, Dst: m.Src})
		}
	}
	if err := fsutil.Copies(back); err != nil {
		log.Error("Failed to restore stored course after interrupted promotion", logfields.Error(err))
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// sameVersion reports whether both version files exist with equal content.
func sameVersion(a, b string) bool {
	av, err := os.ReadFile(a)
	if err != nil {
		return false
	}
	bv, err := os.ReadFile(b)
	if err != nil {
		return false
	}
	return bytes.Equal(av, bv)
}
