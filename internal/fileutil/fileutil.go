package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// RotateSuffix is appended to a path when it is renamed out of the way.
const RotateSuffix = ".old"

// maxRotateDepth caps the rename-aside recursion. Chains deeper than this
// only arise from operator-made files and abort instead of recursing.
const maxRotateDepth = 100

// RenameAside moves path out of the way by appending RotateSuffix. When the
// suffixed name is already taken, that occupant is renamed aside first, so
// the oldest file ends up with the deepest suffix and nothing is lost.
// A missing path is not an error.
func RenameAside(path string) error {
	return renameAside(path, 0)
}

func renameAside(path string, depth int) error {
	if depth >= maxRotateDepth {
		return fmt.Errorf("rename aside %s: rotation chain deeper than %d", path, maxRotateDepth)
	}
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	next := path + RotateSuffix
	if _, err := os.Lstat(next); err == nil {
		if err := renameAside(next, depth+1); err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("inspect %s: %w", next, err)
	}
	if err := os.Rename(path, next); err != nil {
		return fmt.Errorf("rename %s aside: %w", path, err)
	}
	return nil
}

// CopyFile streams src to dst using io.Copy with default permissions (0o644).
func CopyFile(src, dst string) error {
	return CopyFileMode(src, dst, 0o644)
}

// CopyFileMode streams src to dst, setting the given file mode on dst.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
