package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/q-controller/imgvault/src/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/q-controller/imgvault/src/pkg/images/storage")

// LocalFilesystemBackend implements StorageBackend for local filesystem.
// Image bytes go through secure.Save into root; metadata is indexed in badger.
type LocalFilesystemBackend struct {
	root string
	db   *badger.DB
	mu   sync.RWMutex
}

// NewLocalFilesystemBackend opens a backend over an existing root directory.
// The index directory is created on demand; an empty indexDir keeps the index
// in memory.
func NewLocalFilesystemBackend(root, indexDir string) (*LocalFilesystemBackend, error) {
	resolvedRoot, rootErr := secure.ResolveRoot(root)
	if rootErr != nil {
		return nil, rootErr
	}

	var opts badger.Options
	if indexDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(indexDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		opts = badger.DefaultOptions(indexDir)
	}
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &LocalFilesystemBackend{
		root: resolvedRoot,
		db:   db,
	}, nil
}

// Root returns the canonical confinement root.
func (b *LocalFilesystemBackend) Root() string {
	return b.root
}

func (b *LocalFilesystemBackend) Store(ctx context.Context, data []byte) (*ImageMetadata, error) {
	_, span := tracer.Start(ctx, "storage.Store", trace.WithAttributes(attribute.Int("image.size", len(data))))
	defer span.End()

	path, saveErr := secure.Save(data, b.root)
	if saveErr != nil {
		span.SetStatus(codes.Error, string(secure.KindOf(saveErr)))
		return nil, saveErr
	}

	filename := filepath.Base(path)
	metadata := &ImageMetadata{
		ImageID:     strings.TrimSuffix(filename, filepath.Ext(filename)),
		Filename:    filename,
		ContentType: secure.Sniff(data).ContentType(),
		Size:        int64(len(data)),
		SHA256:      utils.HashBytes(data),
		UploadedAt:  time.Now().UTC(),
		Path:        path,
	}
	span.SetAttributes(attribute.String("image.id", metadata.ImageID))

	b.mu.Lock()
	defer b.mu.Unlock()

	indexErr := b.db.Update(func(txn *badger.Txn) error {
		value, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		return txn.Set([]byte(metadata.ImageID), value)
	})
	if indexErr != nil {
		// An unindexed file would be unreachable; take it back out.
		if rmErr := os.Remove(path); rmErr != nil {
			indexErr = errors.Join(indexErr, rmErr)
		}
		span.RecordError(indexErr)
		span.SetStatus(codes.Error, "index update failed")
		return nil, fmt.Errorf("failed to index image: %w", indexErr)
	}

	slog.Debug("Stored image", "image_id", metadata.ImageID, "size", metadata.Size, "content_type", metadata.ContentType)
	return metadata, nil
}

// Open returns a reader over the stored bytes. The file is opened through an
// os.Root on the backend root after its ancestry has been re-checked.
func (b *LocalFilesystemBackend) Open(ctx context.Context, imageID string) (io.ReadCloser, *ImageMetadata, error) {
	_, span := tracer.Start(ctx, "storage.Open", trace.WithAttributes(attribute.String("image.id", imageID)))
	defer span.End()

	b.mu.RLock()
	defer b.mu.RUnlock()

	metadata, lookupErr := b.lookup(imageID)
	if lookupErr != nil {
		return nil, nil, lookupErr
	}

	if err := secure.CheckAncestors(metadata.Path); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	dirRoot, rootErr := os.OpenRoot(b.root)
	if rootErr != nil {
		return nil, nil, fmt.Errorf("failed to open storage root: %w", rootErr)
	}
	defer func() {
		if closeErr := dirRoot.Close(); closeErr != nil {
			slog.Warn("Failed to close storage root", "error", closeErr)
		}
	}()

	file, openErr := dirRoot.Open(metadata.Filename)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return nil, nil, fmt.Errorf("image file missing for %s: %w", imageID, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to open file: %w", openErr)
	}
	return file, metadata, nil
}

func (b *LocalFilesystemBackend) Remove(ctx context.Context, imageID string) error {
	_, span := tracer.Start(ctx, "storage.Remove", trace.WithAttributes(attribute.String("image.id", imageID)))
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	metadata, lookupErr := b.lookup(imageID)
	if lookupErr != nil {
		return lookupErr
	}

	dirRoot, rootErr := os.OpenRoot(b.root)
	if rootErr != nil {
		return fmt.Errorf("failed to open storage root: %w", rootErr)
	}
	defer func() {
		if closeErr := dirRoot.Close(); closeErr != nil {
			slog.Warn("Failed to close storage root", "error", closeErr)
		}
	}()

	if err := dirRoot.Remove(metadata.Filename); err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		return fmt.Errorf("failed to remove file: %w", err)
	}

	// Remove metadata from database
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(imageID))
	})
}

func (b *LocalFilesystemBackend) Exists(imageID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, err := b.lookup(imageID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *LocalFilesystemBackend) GetMetadata(imageID string) (*ImageMetadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.lookup(imageID)
}

// List returns all indexed images, oldest first.
func (b *LocalFilesystemBackend) List() ([]*ImageMetadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	images := []*ImageMetadata{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var metadata ImageMetadata
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &metadata)
			}); err != nil {
				return err
			}
			metadata.Path = filepath.Join(b.root, metadata.Filename)
			images = append(images, &metadata)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(images, func(i, j int) bool {
		return images[i].UploadedAt.Before(images[j].UploadedAt)
	})
	return images, nil
}

// Close closes the database connection
func (b *LocalFilesystemBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *LocalFilesystemBackend) lookup(imageID string) (*ImageMetadata, error) {
	if imageID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}

	var metadata ImageMetadata
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(imageID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, imageID)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &metadata)
		})
	})
	if err != nil {
		return nil, err
	}

	metadata.Path = filepath.Join(b.root, metadata.Filename)
	return &metadata, nil
}
