// Package graders sends course exercise configuration to the grading
// services and asks them to publish it.
package graders

import (
	"context"

	"git.home.luguber.info/inful/coursebuilder/internal/courseconfig"
)

// Graders is the grading-store collaborator.
type Graders interface {
	// Configure stores the exercise configuration and returns per-exercise defaults.
	// Any returned error message means the configuration was rejected.
	Configure(ctx context.Context, cfg *courseconfig.CourseConfig) (map[string]any, []string)
	// Publish makes the last configured version live. Errors are non-fatal.
	Publish(ctx context.Context, cfg *courseconfig.CourseConfig) []string
}

// Noop is used when no graders are configured.
type Noop struct{}

func (Noop) Configure(context.Context, *courseconfig.CourseConfig) (map[string]any, []string) {
	return map[string]any{}, nil
}

func (Noop) Publish(context.Context, *courseconfig.CourseConfig) []string { return nil }
