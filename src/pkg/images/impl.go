package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
)

type imageClientImpl struct {
	backend storage.StorageBackend
}

func (h *imageClientImpl) Upload(ctx context.Context, content io.Reader) (*storage.ImageMetadata, error) {
	// One byte past the limit is enough for the size gate to reject it.
	data, readErr := io.ReadAll(io.LimitReader(content, secure.MaxBytes+1))
	if readErr != nil {
		return nil, fmt.Errorf("failed to read image: %w", readErr)
	}
	return h.backend.Store(ctx, data)
}

func (h *imageClientImpl) Download(ctx context.Context, id, path string) (retErr error) {
	reader, _, openErr := h.backend.Open(ctx, id)
	if openErr != nil {
		return openErr
	}
	defer func() {
		retErr = errors.Join(retErr, reader.Close())
	}()

	return writeFile(path, reader)
}

// writeFile copies r into a new file at path. A partially written file is
// removed before the error is returned.
func writeFile(path string, r io.Reader) error {
	file, fileErr := os.Create(path)
	if fileErr != nil {
		return fileErr
	}

	_, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (h *imageClientImpl) Remove(ctx context.Context, id string) error {
	return h.backend.Remove(ctx, id)
}

func (h *imageClientImpl) List(ctx context.Context) ([]*storage.ImageMetadata, error) {
	return h.backend.List()
}

// CreateImageClient returns a client operating directly on backend.
func CreateImageClient(backend storage.StorageBackend) (ImageClient, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	return &imageClientImpl{
		backend: backend,
	}, nil
}
