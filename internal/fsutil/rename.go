package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// Move is one source to destination pair.
type Move struct {
	Src string
	Dst string
}

// renameHook runs after each completed rename. Tests use it to inject interruptions.
var renameHook func(m Move) error

// Renames moves each pair in order. A missing source is skipped. An existing
// destination directory is swapped with the source in one step where the
// platform supports it, otherwise moved aside first; the old tree ends up at
// "<dst>.prev" and is removed in the background. Files are replaced by the
// rename itself. The first failure stops the sequence; earlier moves are not
// undone.
func Renames(moves []Move) error {
	for _, m := range moves {
		if _, err := os.Lstat(m.Src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(m.Dst), 0o755); err != nil {
			return err
		}
		if err := rename(m.Src, m.Dst); err != nil {
			return fmt.Errorf("rename %s to %s: %w", m.Src, m.Dst, err)
		}
		if renameHook != nil {
			if err := renameHook(m); err != nil {
				return err
			}
		}
	}
	return nil
}

func rename(src, dst string) error {
	info, err := os.Lstat(dst)
	if err != nil || !info.IsDir() {
		return os.Rename(src, dst)
	}

	prev := dst + ".prev"
	if err := os.RemoveAll(prev); err != nil {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	swapped, err := exchange(src, dst)
	if err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	if swapped {
		// src now holds the old tree.
		if err := os.Rename(src, prev); err != nil {
			return fmt.Errorf("move replaced tree aside: %w", err)
		}
	} else {
		if err := os.Rename(dst, prev); err != nil {
			return fmt.Errorf("backup existing destination: %w", err)
		}
		if err := os.Rename(src, dst); err != nil {
			if rerr := os.Rename(prev, dst); rerr != nil {
				slog.Error("Failed to restore destination after rename failure", logfields.Path(dst), logfields.Error(rerr))
			}
			return err
		}
	}
	background.Go(func() {
		if err := os.RemoveAll(prev); err != nil {
			slog.Warn("Failed to remove previous backup", logfields.Path(prev), logfields.Error(err))
		}
	})
	return nil
}

// Copies copies each pair in order, replacing the destination.
func Copies(moves []Move) error {
	for _, m := range moves {
		if _, err := os.Lstat(m.Src); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.RemoveAll(m.Dst); err != nil {
			return err
		}
		if err := copyAny(m.Src, m.Dst); err != nil {
			return fmt.Errorf("copy %s to %s: %w", m.Src, m.Dst, err)
		}
	}
	return nil
}
