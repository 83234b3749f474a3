// Package git synchronizes a course working tree with its origin using go-git:
// clone or fetch and hard reset, changed-file detection between commits,
// commit metadata for the build log, and post-build cleanup.
package git
