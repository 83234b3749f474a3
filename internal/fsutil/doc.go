// Package fsutil holds the filesystem primitives the promotion protocol is
// built from: advisory file locks with a bounded wait, tree mirroring and
// copying, and rename-based promotion of files and directories.
package fsutil
