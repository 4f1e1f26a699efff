package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrCrossDevice is returned when a move would cross filesystems. Descriptors
// are never copied: a copy followed by a delete is not atomic and a crash in
// between leaves the descriptor routed twice.
var ErrCrossDevice = errors.New("move crosses filesystem boundary")

// ErrOutsideRoot is returned by RelativeUnder for paths that escape the root.
var ErrOutsideRoot = errors.New("path is outside root")

// Move renames src to dst, creating dst's parent directories. An existing
// file at dst is replaced.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, unix.EXDEV) {
			return fmt.Errorf("%w: %s -> %s", ErrCrossDevice, src, dst)
		}
		return err
	}
	return nil
}

// EnsureDir creates dir if it does not exist and reports whether it did.
func EnsureDir(dir string) (bool, error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return false, fmt.Errorf("%s exists and is not a directory", dir)
		}
		return false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return false, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether path names an existing file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RelativeUnder returns path relative to root using forward slashes. Paths
// that are not inside root yield ErrOutsideRoot.
func RelativeUnder(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s not under %s", ErrOutsideRoot, path, root)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}
