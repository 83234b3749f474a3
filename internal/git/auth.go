package git

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
)

// authFor picks credentials for origin: a token for HTTP(S) URLs, the SSH key otherwise.
// It returns nil when nothing is configured for the URL's transport.
func authFor(cfg config.GitConfig, origin string) (transport.AuthMethod, error) {
	lower := strings.ToLower(origin)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if cfg.Token == "" {
			return nil, nil
		}
		// Most Git hosting services accept any username with a token password
		return &http.BasicAuth{Username: "token", Password: cfg.Token}, nil
	}
	if cfg.SSHKeyPath == "" || strings.HasPrefix(lower, "file://") || strings.HasPrefix(origin, "/") {
		return nil, nil
	}
	keys, err := ssh.NewPublicKeysFromFile("git", cfg.SSHKeyPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key from %s: %w", cfg.SSHKeyPath, err)
	}
	return keys, nil
}
