// Package courseconfig locates and loads a course's built configuration in
// each of the BUILD, STORE and PUBLISH stage trees.
package courseconfig

import (
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
)

// Stage names one of the three per-course directory trees.
type Stage string

const (
	StageBuild   Stage = "build"
	StageStore   Stage = "store"
	StagePublish Stage = "publish"
)

const (
	IndexFile = "index.yaml"
	MetaFile  = "meta.yaml"
)

// Layout maps (course, stage) pairs to filesystem paths.
type Layout struct {
	BuildRoot       string
	StoreRoot       string
	PublishRoot     string
	LocalSourceRoot string
}

// NewLayout builds a Layout from the configured paths. Roots are made absolute.
func NewLayout(p config.PathsConfig) (Layout, error) {
	l := Layout{LocalSourceRoot: p.LocalSourceDir}
	for _, pair := range []struct {
		dst *string
		src string
	}{{&l.BuildRoot, p.BuildDir}, {&l.StoreRoot, p.StoreDir}, {&l.PublishRoot, p.PublishDir}, {&l.LocalSourceRoot, p.LocalSourceDir}} {
		if pair.src == "" {
			continue
		}
		abs, err := filepath.Abs(pair.src)
		if err != nil {
			return Layout{}, fmt.Errorf("resolve %s: %w", pair.src, err)
		}
		*pair.dst = abs
	}
	return l, nil
}

// Root returns the stage root directory.
func (l Layout) Root(stage Stage) string {
	switch stage {
	case StageStore:
		return l.StoreRoot
	case StagePublish:
		return l.PublishRoot
	default:
		return l.BuildRoot
	}
}

// Dir is the course directory in stage.
func (l Layout) Dir(key string, stage Stage) string {
	return filepath.Join(l.Root(stage), key)
}

// PathTo joins rel onto the course directory in stage.
func (l Layout) PathTo(key, rel string, stage Stage) string {
	return filepath.Join(l.Dir(key, stage), filepath.FromSlash(rel))
}

// VersionPath is the version-id file, kept next to the course directory.
func (l Layout) VersionPath(key string, stage Stage) string {
	return filepath.Join(l.Root(stage), key+".version")
}

// DefaultsPath is the exercise-defaults JSON file, kept next to the course directory.
func (l Layout) DefaultsPath(key string, stage Stage) string {
	return filepath.Join(l.Root(stage), key+".defaults.json")
}

// LockPath is the lock file guarding the course in stage. It sits outside the
// course directory so that renaming the directory never moves the lock.
func (l Layout) LockPath(key string, stage Stage) string {
	return filepath.Join(l.Root(stage), key+".lock")
}

func (l Layout) IndexPath(key string, stage Stage) string {
	return l.PathTo(key, IndexFile, stage)
}

func (l Layout) MetaPath(key string, stage Stage) string {
	return l.PathTo(key, MetaFile, stage)
}

// LocalSourcePath is the source tree copied into BUILD for courses without a git origin.
func (l Layout) LocalSourcePath(key string) string {
	return filepath.Join(l.LocalSourceRoot, key)
}
