package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
)

// Validate checks cross-field invariants after defaults have been applied.
func Validate(cfg *Config) error {
	var errs []error
	errs = append(errs, validatePaths(&cfg.Paths)...)
	if cfg.Frontend.URL != "" {
		if _, err := url.ParseRequestURI(cfg.Frontend.URL); err != nil {
			errs = append(errs, fmt.Errorf("frontend.url: %w", err))
		}
		if cfg.Frontend.SigningKey == "" {
			errs = append(errs, errors.New("frontend.signing_key is required when frontend.url is set"))
		}
	}
	seen := map[string]bool{}
	for i, g := range cfg.Graders {
		if g.Name == "" || g.URL == "" {
			errs = append(errs, fmt.Errorf("graders[%d]: name and url are required", i))
			continue
		}
		if seen[g.Name] {
			errs = append(errs, fmt.Errorf("graders[%d]: duplicate name %q", i, g.Name))
		}
		seen[g.Name] = true
	}
	if cfg.Build.WatchLocal && cfg.Paths.LocalSourceDir == "" {
		errs = append(errs, errors.New("build.watch_local_sources requires paths.local_source_dir"))
	}
	return errors.Join(errs...)
}

// validatePaths requires the three stage roots and keeps them distinct, since promotion renames across them.
func validatePaths(p *PathsConfig) []error {
	var errs []error
	roots := map[string]string{"build_dir": p.BuildDir, "store_dir": p.StoreDir, "publish_dir": p.PublishDir}
	seen := map[string]string{}
	for _, name := range []string{"build_dir", "store_dir", "publish_dir"} {
		dir := roots[name]
		if dir == "" {
			errs = append(errs, fmt.Errorf("paths.%s is required", name))
			continue
		}
		clean := filepath.Clean(dir)
		if other, ok := seen[clean]; ok {
			errs = append(errs, fmt.Errorf("paths.%s and paths.%s must differ", other, name))
		}
		seen[clean] = name
	}
	return errs
}
