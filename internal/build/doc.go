// Package build resolves a course's build image and command and runs the
// build through a pluggable Executor.
package build
