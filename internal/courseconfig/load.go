package courseconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/coursebuilder/internal/fsutil"
)

var validate = validator.New()

// CourseConfig is the loaded configuration of one course in one stage.
type CourseConfig struct {
	Key       string
	Stage     Stage
	Dir       string
	File      string
	VersionID string
	Data      *Index
	// Exercises maps exercise key to its parsed grader configuration.
	Exercises map[string]ExerciseConfig

	warnings []string
}

// Warnings returns non-fatal problems found while loading.
func (c *CourseConfig) Warnings() []string { return c.warnings }

// StaticDir is the absolute static-asset directory of the course in its stage.
// An empty static_dir means the whole course directory.
func (c *CourseConfig) StaticDir() string {
	return filepath.Join(c.Dir, filepath.FromSlash(c.Data.StaticDir))
}

// ConfigPath returns the course-relative slash path of an exercise's config file.
func (c *CourseConfig) ConfigPath(ex Exercise) string {
	if ex.Config == "" {
		return ""
	}
	return strings.TrimPrefix(path.Join(c.Data.GraderConfigDir, ex.Config), "/")
}

// ExerciseFiles lists every exercise config, template, model and include
// file referenced by the configuration, deduplicated and course-relative.
func (c *CourseConfig) ExerciseFiles() []string {
	set := map[string]struct{}{}
	add := func(p string) {
		p = strings.TrimPrefix(p, "/")
		if p != "" {
			set[p] = struct{}{}
		}
	}
	for _, ex := range c.Data.Exercises() {
		add(c.ConfigPath(ex))
		for _, lang := range c.Exercises[ex.Key] {
			for _, f := range lang.TemplateFiles {
				add(f)
			}
			for _, f := range lang.ModelFiles {
				add(f)
			}
			for _, inc := range lang.Include {
				add(inc.File)
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Load reads and validates the course configuration of key in stage.
// Structural problems return *ParseError, content problems *ValidationError.
func Load(layout Layout, key string, stage Stage) (*CourseConfig, error) {
	dir := layout.Dir(key, stage)
	file := layout.IndexPath(key, stage)

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &ParseError{Path: file, Err: err}
	}
	var index Index
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, &ParseError{Path: file, Err: err}
	}

	cfg := &CourseConfig{
		Key:       key,
		Stage:     stage,
		Dir:       dir,
		File:      file,
		Data:      &index,
		Exercises: map[string]ExerciseConfig{},
	}
	if v, err := os.ReadFile(layout.VersionPath(key, stage)); err == nil {
		cfg.VersionID = strings.TrimSpace(string(v))
	}

	var problems []string
	if err := validate.Struct(&index); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, &ParseError{Path: file, Err: err}
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	problems = append(problems, cfg.checkPaths()...)
	problems = append(problems, cfg.loadExercises()...)
	if len(problems) > 0 {
		return nil, &ValidationError{Path: file, Problems: problems}
	}
	return cfg, nil
}

func (c *CourseConfig) checkPaths() []string {
	var problems []string
	for name, rel := range map[string]string{"static_dir": c.Data.StaticDir, "grader_config_dir": c.Data.GraderConfigDir} {
		if rel == "" {
			continue
		}
		if path.IsAbs(rel) || !fsutil.IsSubpath(filepath.Join(c.Dir, filepath.FromSlash(rel)), c.Dir) {
			problems = append(problems, fmt.Sprintf("Index.%s: %q escapes the course directory", name, rel))
		}
	}
	return problems
}

func (c *CourseConfig) loadExercises() []string {
	var problems []string
	seen := map[string]bool{}
	for _, ex := range c.Data.Exercises() {
		if ex.Key == "" {
			continue
		}
		if seen[ex.Key] {
			problems = append(problems, fmt.Sprintf("exercise %q: duplicate key", ex.Key))
			continue
		}
		seen[ex.Key] = true

		rel := c.ConfigPath(ex)
		if rel == "" {
			c.warnings = append(c.warnings, fmt.Sprintf("exercise %q has no grader config", ex.Key))
			continue
		}
		full := filepath.Join(c.Dir, filepath.FromSlash(rel))
		if !fsutil.IsSubpath(full, c.Dir) {
			problems = append(problems, fmt.Sprintf("exercise %q: config %q escapes the course directory", ex.Key, ex.Config))
			continue
		}
		data, err := os.ReadFile(full)
		if errors.Is(err, fs.ErrNotExist) {
			problems = append(problems, fmt.Sprintf("exercise %q: config file %q not found", ex.Key, rel))
			continue
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("exercise %q: %v", ex.Key, err))
			continue
		}
		var ec ExerciseConfig
		if err := yaml.Unmarshal(data, &ec); err != nil {
			problems = append(problems, fmt.Sprintf("exercise %q: invalid config %q: %v", ex.Key, rel, err))
			continue
		}
		if len(ec) == 0 {
			c.warnings = append(c.warnings, fmt.Sprintf("exercise %q: config %q defines no languages", ex.Key, rel))
		}
		c.Exercises[ex.Key] = ec
	}
	return problems
}
