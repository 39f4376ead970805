package importer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/q-controller/imgvault/src/pkg/images"
	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
	"github.com/q-controller/imgvault/src/pkg/importer"
	"github.com/q-controller/imgvault/src/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPNG  = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	testJPEG = []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
)

func newImporter(t *testing.T, opts ...importer.Option) (*importer.Importer, *storage.LocalFilesystemBackend) {
	t.Helper()
	backend, err := storage.NewLocalFilesystemBackend(t.TempDir(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	cli, err := images.CreateImageClient(backend)
	require.NoError(t, err)

	imp, err := importer.New(cli, opts...)
	require.NoError(t, err)
	return imp, backend
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestImportFile(t *testing.T) {
	imp, backend := newImporter(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "photo.jpeg")
	writeFile(t, path, testJPEG)
	meta, err := imp.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", meta.ContentType)

	stored, err := os.ReadFile(filepath.Join(backend.Root(), meta.Filename))
	require.NoError(t, err)
	assert.Equal(t, testJPEG, stored)
}

func TestImportFileRejectsOversized(t *testing.T) {
	imp, backend := newImporter(t)

	big := make([]byte, secure.MaxBytes+10)
	copy(big, testPNG)
	path := filepath.Join(t.TempDir(), "big.png")
	writeFile(t, path, big)

	_, err := imp.ImportFile(context.Background(), path)
	assert.ErrorIs(t, err, secure.ErrTooLarge)

	entries, err := os.ReadDir(backend.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportFileRefusesSymlink(t *testing.T) {
	imp, _ := newImporter(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "real.png")
	writeFile(t, target, testPNG)
	link := filepath.Join(dir, "link.png")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := imp.ImportFile(context.Background(), link)
	assert.ErrorIs(t, err, utils.ErrNotRegular)
}

func TestImportDir(t *testing.T) {
	imp, backend := newImporter(t, importer.WithConcurrency(2))
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.png"), testPNG)
	writeFile(t, filepath.Join(dir, "b.jpg"), testJPEG)
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("not an image"))
	writeFile(t, filepath.Join(dir, ".hidden.png"), testPNG)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))
	writeFile(t, filepath.Join(dir, "nested", "c.png"), testPNG)

	report, err := imp.ImportDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, report.Imported, 2)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), report.Failed[0].Source)
	assert.ErrorIs(t, report.Failed[0].Err, secure.ErrUnsupportedType)

	listed, err := backend.List()
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = imp.ImportDir(context.Background(), filepath.Join(dir, "absent"))
	assert.Error(t, err)
}

func TestImportURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The declared type is irrelevant; only the bytes are classified.
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write(testPNG)
	}))
	defer server.Close()

	imp, _ := newImporter(t, importer.WithHTTPClient(server.Client()))
	meta, err := imp.ImportURL(context.Background(), server.URL+"/remote.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)

	report, err := imp.Import(context.Background(), server.URL+"/other.png")
	require.NoError(t, err)
	assert.Len(t, report.Imported, 1)
}

func TestImportDispatch(t *testing.T) {
	imp, _ := newImporter(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writeFile(t, path, testPNG)

	report, err := imp.Import(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, report.Imported, 1)

	report, err = imp.Import(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, report.Imported, 1)

	report, err = imp.Import(context.Background(), filepath.Join(dir, "missing.png"))
	require.NoError(t, err)
	assert.Len(t, report.Failed, 1)
}

func TestWatch(t *testing.T) {
	imp, backend := newImporter(t, importer.WithSettleDelay(50*time.Millisecond))
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var results []importer.Result
	done := make(chan error, 1)
	go func() {
		done <- imp.Watch(ctx, dir, func(res importer.Result) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
		})
	}()

	// Files are staged outside the inbox and renamed in so they appear complete.
	staging := t.TempDir()
	require.Eventually(t, func() bool {
		staged := filepath.Join(staging, "drop.png")
		writeFile(t, staged, testPNG)
		_ = os.Rename(staged, filepath.Join(dir, "drop.png"))
		mu.Lock()
		defer mu.Unlock()
		return len(results) > 0
	}, 5*time.Second, 250*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, results[0].Err)
	listed, err := backend.List()
	require.NoError(t, err)
	assert.NotEmpty(t, listed)
}

func TestNewRequiresUploader(t *testing.T) {
	_, err := importer.New(nil)
	assert.Error(t, err)
}
