package secure

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// swapWithLink moves dir aside and leaves a symbolic link to the moved copy in its place.
func swapWithLink(t *testing.T, dir string) string {
	t.Helper()
	moved := dir + "-moved"
	require.NoError(t, os.Rename(dir, moved))
	require.NoError(t, os.Symlink(moved, dir))
	return moved
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestSaveDetectsAncestorSwappedForLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symbolic links need elevated privileges on windows")
	}

	data := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)

	tests := []struct {
		name string
		swap func(base, root string) string
	}{
		{"root", func(_, root string) string { return root }},
		{"intermediate", func(base, _ string) string { return filepath.Join(base, "parent") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, err := filepath.EvalSymlinks(t.TempDir())
			require.NoError(t, err)
			root := filepath.Join(base, "parent", "root")
			require.NoError(t, os.MkdirAll(root, 0755))

			var moved string
			s := saver{beforeAncestorCheck: func(string) {
				moved = swapWithLink(t, tt.swap(base, root))
			}}

			_, saveErr := s.save(data, root)
			require.ErrorIs(t, saveErr, ErrSymlinkAncestor)
			require.Zero(t, countFiles(t, moved))
		})
	}
}

func TestSaveWithoutSwapSucceeds(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	called := false
	s := saver{beforeAncestorCheck: func(target string) {
		called = true
		require.Equal(t, root, filepath.Dir(target))
	}}

	path, saveErr := s.save([]byte{0xff, 0xd8, 0x00, 0xff, 0xd9}, root)
	require.NoError(t, saveErr)
	require.True(t, called)
	require.FileExists(t, path)
}

func TestSaveRemovesPartialFileOnWriteFailure(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	data := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 4096)...)
	s := saver{write: func(w io.Writer, data []byte) (int, error) {
		n, writeErr := w.Write(data[:len(data)/2])
		require.NoError(t, writeErr)
		return n, errors.New("no space left on device")
	}}

	_, saveErr := s.save(data, root)
	require.ErrorIs(t, saveErr, ErrWriteFailed)
	require.Equal(t, KindWriteFailed, KindOf(saveErr))
	require.Zero(t, countFiles(t, root))
}
