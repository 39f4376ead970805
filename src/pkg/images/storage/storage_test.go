package storage_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
)

var testPNG = append([]byte("\x89PNG\r\n\x1a\n"), []byte("Hello, World! This is test image data.")...)

func newBackend(t *testing.T, indexDir string) *storage.LocalFilesystemBackend {
	t.Helper()
	backend, err := storage.NewLocalFilesystemBackend(t.TempDir(), indexDir)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestLocalFilesystemBackend(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t, filepath.Join(t.TempDir(), "index"))

	// Test Store
	metadata, err := backend.Store(ctx, testPNG)
	if err != nil {
		t.Fatalf("Failed to store image: %v", err)
	}
	if metadata.ContentType != "image/png" {
		t.Fatalf("ContentType = %q, want image/png", metadata.ContentType)
	}
	if metadata.Size != int64(len(testPNG)) {
		t.Fatalf("Size = %d, want %d", metadata.Size, len(testPNG))
	}
	if filepath.Dir(metadata.Path) != backend.Root() {
		t.Fatalf("image stored outside root: %s", metadata.Path)
	}

	// Test Exists
	exists, err := backend.Exists(metadata.ImageID)
	if err != nil {
		t.Fatalf("Failed to check existence: %v", err)
	}
	if !exists {
		t.Fatal("Image should exist after storing")
	}

	// Test Open
	reader, opened, err := backend.Open(ctx, metadata.ImageID)
	if err != nil {
		t.Fatalf("Failed to open image: %v", err)
	}
	retrievedData, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		t.Fatalf("Failed to read retrieved data: %v", err)
	}
	if string(retrievedData) != string(testPNG) {
		t.Fatalf("Retrieved data doesn't match. Expected: %q, Got: %q", testPNG, retrievedData)
	}
	if opened.SHA256 != metadata.SHA256 {
		t.Fatalf("SHA256 = %s, want %s", opened.SHA256, metadata.SHA256)
	}

	// Test List
	images, err := backend.List()
	if err != nil {
		t.Fatalf("Failed to list images: %v", err)
	}
	if len(images) != 1 || images[0].ImageID != metadata.ImageID {
		t.Fatalf("List = %+v, want single %s", images, metadata.ImageID)
	}

	// Test Remove
	if err := backend.Remove(ctx, metadata.ImageID); err != nil {
		t.Fatalf("Failed to remove image: %v", err)
	}

	// Verify removal
	exists, err = backend.Exists(metadata.ImageID)
	if err != nil {
		t.Fatalf("Failed to check existence after removal: %v", err)
	}
	if exists {
		t.Fatal("Image should not exist after removal")
	}
	if _, err := os.Stat(metadata.Path); !os.IsNotExist(err) {
		t.Fatalf("file should be gone, stat err = %v", err)
	}
}

func TestStorageBackendSameContentGetsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t, "")

	first, err := backend.Store(ctx, testPNG)
	if err != nil {
		t.Fatalf("Failed to store first image: %v", err)
	}
	second, err := backend.Store(ctx, testPNG)
	if err != nil {
		t.Fatalf("Failed to store second image: %v", err)
	}

	if first.ImageID == second.ImageID || first.Path == second.Path {
		t.Fatalf("identical uploads must not share an id: %s", first.ImageID)
	}
	if first.SHA256 != second.SHA256 {
		t.Fatal("identical uploads must hash the same")
	}
}

func TestStorageBackendRejectsInvalidUploads(t *testing.T) {
	backend := newBackend(t, "")

	_, err := backend.Store(context.Background(), []byte("not_an_image"))
	if !errors.Is(err, secure.ErrUnsupportedType) {
		t.Fatalf("err = %v, want %v", err, secure.ErrUnsupportedType)
	}

	entries, err := os.ReadDir(backend.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root, found %d entries", len(entries))
	}
	images, _ := backend.List()
	if len(images) != 0 {
		t.Fatalf("expected empty index, found %d", len(images))
	}
}

func TestStorageBackendUnknownID(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t, "")

	if _, _, err := backend.Open(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Open err = %v, want ErrNotFound", err)
	}
	if err := backend.Remove(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Remove err = %v, want ErrNotFound", err)
	}
	if _, err := backend.GetMetadata(""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetMetadata err = %v, want ErrNotFound", err)
	}
}

func TestStorageBackendIndexSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	indexDir := filepath.Join(t.TempDir(), "index")

	backend, err := storage.NewLocalFilesystemBackend(root, indexDir)
	if err != nil {
		t.Fatal(err)
	}
	metadata, err := backend.Store(ctx, testPNG)
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := storage.NewLocalFilesystemBackend(root, indexDir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.GetMetadata(metadata.ImageID)
	if err != nil {
		t.Fatalf("GetMetadata after reopen: %v", err)
	}
	if got.SHA256 != metadata.SHA256 || got.Path != metadata.Path {
		t.Fatalf("metadata changed across reopen: %+v vs %+v", got, metadata)
	}
}

func TestNewLocalFilesystemBackendRequiresRoot(t *testing.T) {
	_, err := storage.NewLocalFilesystemBackend(filepath.Join(t.TempDir(), "missing"), "")
	if !errors.Is(err, secure.ErrRootNotFound) {
		t.Fatalf("err = %v, want %v", err, secure.ErrRootNotFound)
	}
}
