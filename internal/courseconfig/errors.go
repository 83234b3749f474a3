package courseconfig

import (
	"errors"
	"fmt"
	"strings"
)

// ParseError reports a structurally unusable configuration: missing index or malformed YAML.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports content problems in an otherwise parseable configuration.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid course configuration %s:\n%s", e.Path, strings.Join(e.Problems, "\n"))
}

// IsConfigError reports whether err is a ParseError or a ValidationError.
func IsConfigError(err error) bool {
	var pe *ParseError
	var ve *ValidationError
	return errors.As(err, &pe) || errors.As(err, &ve)
}
