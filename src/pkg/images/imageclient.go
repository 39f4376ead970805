package images

import (
	"context"
	"io"

	"github.com/q-controller/imgvault/src/pkg/images/storage"
)

type ImageClient interface {
	Upload(ctx context.Context, content io.Reader) (*storage.ImageMetadata, error)
	Download(ctx context.Context, id, path string) (retErr error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]*storage.ImageMetadata, error)
}
