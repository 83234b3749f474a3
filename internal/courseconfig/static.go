package courseconfig

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LinkStatic points <staticRoot>/<key> at the course's static directory.
// The link is replaced with a rename so readers never see it missing.
// An empty staticRoot disables linking.
func LinkStatic(cfg *CourseConfig, staticRoot string) error {
	if staticRoot == "" {
		return nil
	}
	if err := os.MkdirAll(staticRoot, 0o755); err != nil {
		return err
	}
	target := cfg.StaticDir()
	link := filepath.Join(staticRoot, cfg.Key)
	tmp := filepath.Join(staticRoot, "."+cfg.Key+".link-"+uuid.NewString())
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create static link: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace static link %s: %w", link, err)
	}
	return nil
}

// StaticURLPath is the URL path static files of key are served under, with a trailing slash.
func StaticURLPath(urlPath, key string) string {
	return path.Join("/", urlPath, key) + "/"
}

// StaticURL is the absolute URL static files of key are served under.
func StaticURL(baseURL, urlPath, key string) string {
	return strings.TrimRight(baseURL, "/") + StaticURLPath(urlPath, key)
}
