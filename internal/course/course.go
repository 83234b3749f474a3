package course

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
)

// secretBytes is the entropy of generated webhook secrets.
const secretBytes = 32

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Course is a configured source of course material.
type Course struct {
	Key                 string  `json:"key"`
	RemoteID            *int    `json:"remote_id,omitempty"`
	GitOrigin           string  `json:"git_origin"`
	GitBranch           string  `json:"git_branch"`
	UpdateHook          string  `json:"update_hook,omitempty"`
	EmailOnError        bool    `json:"email_on_error"`
	UpdateAutomatically bool    `json:"update_automatically"`
	SkipBuildFailsafes  bool    `json:"skip_build_failsafes"`
	WebhookSecret       *string `json:"webhook_secret,omitempty"`
}

// New returns a course with the default flags and a fresh webhook secret.
func New(key string) (*Course, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	c := &Course{
		Key:                 key,
		GitBranch:           "master",
		EmailOnError:        true,
		UpdateAutomatically: true,
	}
	if err := c.ResetWebhookSecret(); err != nil {
		return nil, err
	}
	return c, nil
}

// ValidateKey rejects keys that are unusable as a filesystem namespace or lock name.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("invalid course key %q", key)
	}
	return nil
}

// LocalCopy reports whether the course is synchronized by copying a local source tree.
func (c *Course) LocalCopy() bool { return c.GitOrigin == "" }

// RemoteIDString returns the remote id as a decimal string, or "" when unset.
func (c *Course) RemoteIDString() string {
	if c.RemoteID == nil {
		return ""
	}
	return strconv.Itoa(*c.RemoteID)
}

// ResetWebhookSecret replaces the webhook secret. The caller persists the course.
func (c *Course) ResetWebhookSecret() error {
	secret, err := GenerateSecret()
	if err != nil {
		return err
	}
	c.WebhookSecret = &secret
	return nil
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
