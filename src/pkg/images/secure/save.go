// Package secure validates untrusted image uploads and writes them below a
// confinement directory.
//
// Save runs a fixed pipeline: size gate, magic byte sniffing, root resolution,
// random name generation, containment check, ancestor symlink check and finally
// an exclusive create. Each stage is exported so it can be exercised on its own.
// Nothing is written unless every check before the write has passed.
package secure

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxBytes is the largest accepted upload. A buffer of exactly MaxBytes is accepted.
const MaxBytes = 5_000_000

// Save validates data and writes it to a freshly named file below root,
// returning the absolute path of the new file. On failure no file is left
// behind and the error wraps one of the sentinel errors of this package.
//
// Save keeps no state between calls and is safe for concurrent use.
func Save(data []byte, root string) (string, error) {
	return saver{}.save(data, root)
}

type saver struct {
	// beforeAncestorCheck runs after the target has been confined and before
	// its ancestry is inspected.
	beforeAncestorCheck func(target string)

	// write replaces the write of data into the freshly created file.
	write func(w io.Writer, data []byte) (int, error)
}

func (s saver) save(data []byte, root string) (string, error) {
	if err := CheckSize(data); err != nil {
		return "", err
	}

	format := Sniff(data)
	if format == Unrecognized {
		return "", ErrUnsupportedType
	}

	resolvedRoot, rootErr := ResolveRoot(root)
	if rootErr != nil {
		return "", rootErr
	}

	name, nameErr := NewFilename(format)
	if nameErr != nil {
		return "", nameErr
	}

	target, confineErr := Confine(resolvedRoot, name)
	if confineErr != nil {
		return "", confineErr
	}

	if s.beforeAncestorCheck != nil {
		s.beforeAncestorCheck(target)
	}

	if err := CheckAncestors(target); err != nil {
		return "", err
	}

	if err := s.writeExclusive(resolvedRoot, target, data); err != nil {
		return "", err
	}
	return target, nil
}

// CheckSize rejects buffers longer than MaxBytes.
func CheckSize(data []byte) error {
	if len(data) > MaxBytes {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTooLarge, len(data), MaxBytes)
	}
	return nil
}

// ResolveRoot returns the canonical absolute form of root. The directory must
// already exist; it is never created here.
func ResolveRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty path", ErrRootNotFound)
	}

	abs, absErr := filepath.Abs(root)
	if absErr != nil {
		return "", fmt.Errorf("%w: %v", ErrRootNotFound, absErr)
	}

	if info, lstatErr := os.Lstat(abs); lstatErr == nil && info.Mode()&os.ModeSymlink != 0 {
		slog.Warn("Storage root is a symbolic link, using its target", "root", abs)
	}

	resolved, evalErr := filepath.EvalSymlinks(abs)
	if evalErr != nil {
		return "", fmt.Errorf("%w: %v", ErrRootNotFound, evalErr)
	}

	info, statErr := os.Stat(resolved)
	if statErr != nil {
		return "", fmt.Errorf("%w: %v", ErrRootNotFound, statErr)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, resolved)
	}
	return resolved, nil
}

// NewFilename returns a random version 4 UUID (crypto/rand backed) followed by
// the extension for f. Nothing in the name is derived from the upload.
func NewFilename(f Format) (string, error) {
	if f == Unrecognized {
		return "", ErrUnsupportedType
	}
	id, idErr := uuid.NewRandom()
	if idErr != nil {
		return "", fmt.Errorf("%w: failed to generate file name: %v", ErrWriteFailed, idErr)
	}
	return id.String() + f.Extension(), nil
}

// Confine joins name onto the canonical root, canonicalizes the result and
// verifies that it is still strictly below root. The root must come from
// ResolveRoot.
func Confine(root, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: invalid name %q", ErrPathEscape, name)
	}

	// The root was canonical when resolved; if it is a link now it was swapped.
	rootInfo, rootErr := os.Lstat(root)
	if rootErr != nil {
		return "", fmt.Errorf("%w: %v", ErrRootNotFound, rootErr)
	}
	if rootInfo.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: %s", ErrSymlinkAncestor, root)
	}

	joined := filepath.Join(root, name)
	dir, dirErr := filepath.EvalSymlinks(filepath.Dir(joined))
	if dirErr != nil {
		return "", fmt.Errorf("%w: %v", ErrPathEscape, dirErr)
	}
	target := filepath.Join(dir, filepath.Base(joined))

	// An existing final component is resolved as well so a planted link cannot
	// point the write somewhere else.
	if info, lstatErr := os.Lstat(target); lstatErr == nil && info.Mode()&os.ModeSymlink != 0 {
		resolved, evalErr := filepath.EvalSymlinks(target)
		if evalErr != nil {
			return "", fmt.Errorf("%w: %v", ErrPathEscape, evalErr)
		}
		target = resolved
	}

	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(target, prefix) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrPathEscape, target, root)
	}
	return target, nil
}

// CheckAncestors walks from the parent of path up to the filesystem root and
// fails if any directory on the way, the storage root included, is a symbolic link.
func CheckAncestors(path string) error {
	dir := filepath.Dir(path)
	for {
		info, lstatErr := os.Lstat(dir)
		if lstatErr != nil {
			return fmt.Errorf("%w: %v", ErrRootNotFound, lstatErr)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrSymlinkAncestor, dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

// writeExclusive creates target through an os.Root opened on root, so the open
// cannot leave the root, and O_EXCL refuses an existing file or link.
func (s saver) writeExclusive(root, target string, data []byte) error {
	rel, relErr := filepath.Rel(root, target)
	if relErr != nil {
		return fmt.Errorf("%w: %v", ErrPathEscape, relErr)
	}

	dirRoot, openRootErr := os.OpenRoot(root)
	if openRootErr != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, openRootErr)
	}
	defer func() {
		if closeErr := dirRoot.Close(); closeErr != nil {
			slog.Warn("Failed to close storage root", "root", root, "error", closeErr)
		}
	}()

	file, openErr := dirRoot.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if openErr != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, openErr)
	}

	write := s.write
	if write == nil {
		write = func(w io.Writer, data []byte) (int, error) { return w.Write(data) }
	}
	_, writeErr := write(file, data)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		if rmErr := dirRoot.Remove(rel); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
