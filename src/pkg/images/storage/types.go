package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no image is indexed under the requested id.
var ErrNotFound = errors.New("image not found")

// StorageBackend abstracts the underlying storage mechanism
type StorageBackend interface {
	Store(ctx context.Context, data []byte) (*ImageMetadata, error)
	Open(ctx context.Context, imageID string) (io.ReadCloser, *ImageMetadata, error)
	Remove(ctx context.Context, imageID string) error
	Exists(imageID string) (bool, error)
	GetMetadata(imageID string) (*ImageMetadata, error)
	List() ([]*ImageMetadata, error)
}

type ImageMetadata struct {
	ImageID     string    `json:"image_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	UploadedAt  time.Time `json:"uploaded_at"`

	// Path is the absolute location on disk. It is derived from the backend
	// root on every read and never serialized.
	Path string `json:"-"`
}
