// Package importer feeds images from local files, directories and URLs into
// an image store.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/q-controller/imgvault/src/pkg/images/secure"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
	"github.com/q-controller/imgvault/src/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// readLimit lets oversized sources through far enough to be rejected by the
// store's size gate instead of being silently truncated to a valid size.
const readLimit = secure.MaxBytes + 1

// Uploader is satisfied by images.ImageClient.
type Uploader interface {
	Upload(ctx context.Context, content io.Reader) (*storage.ImageMetadata, error)
}

type Result struct {
	Source string
	Image  *storage.ImageMetadata
	Err    error
}

type Report struct {
	Imported []Result
	Failed   []Result
}

func (r *Report) add(res Result) {
	if res.Err != nil {
		r.Failed = append(r.Failed, res)
	} else {
		r.Imported = append(r.Imported, res)
	}
}

type Importer struct {
	uploader    Uploader
	client      *http.Client
	settle      time.Duration
	concurrency int
}

type Option func(*Importer)

func WithHTTPClient(client *http.Client) Option {
	return func(i *Importer) {
		i.client = client
	}
}

// WithSettleDelay sets how long a watched file must stay unchanged before it
// is imported.
func WithSettleDelay(d time.Duration) Option {
	return func(i *Importer) {
		i.settle = d
	}
}

func WithConcurrency(n int) Option {
	return func(i *Importer) {
		i.concurrency = n
	}
}

func New(uploader Uploader, opts ...Option) (*Importer, error) {
	if uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	i := &Importer{
		uploader:    uploader,
		client:      &http.Client{Timeout: time.Minute},
		settle:      500 * time.Millisecond,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.concurrency < 1 {
		i.concurrency = 1
	}
	return i, nil
}

func (i *Importer) ImportFile(ctx context.Context, path string) (*storage.ImageMetadata, error) {
	data, readErr := utils.ReadFileLimited(path, readLimit)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, readErr)
	}
	return i.uploader.Upload(ctx, bytes.NewReader(data))
}

func (i *Importer) ImportURL(ctx context.Context, url string) (*storage.ImageMetadata, error) {
	data, fetchErr := utils.FetchURL(ctx, i.client, url, readLimit)
	if fetchErr != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, fetchErr)
	}
	return i.uploader.Upload(ctx, bytes.NewReader(data))
}

// ImportDir imports the files directly inside dir. Subdirectories and hidden
// files are skipped. Per-file failures are collected in the report; the error
// is only set when dir cannot be listed or ctx ends.
func (i *Importer) ImportDir(ctx context.Context, dir string) (*Report, error) {
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, readErr)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	results := make([]Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			image, err := i.ImportFile(gctx, path)
			results[idx] = Result{Source: path, Image: image, Err: err}
			return nil
		})
	}
	waitErr := g.Wait()

	report := &Report{}
	for _, res := range results {
		if res.Source != "" {
			report.add(res)
		}
	}
	return report, waitErr
}

// Import dispatches on the kind of target: http(s) URL, directory or file.
func (i *Importer) Import(ctx context.Context, target string) (*Report, error) {
	if utils.IsHTTP(target) {
		image, err := i.ImportURL(ctx, target)
		report := &Report{}
		report.add(Result{Source: target, Image: image, Err: err})
		return report, nil
	}

	info, statErr := os.Lstat(target)
	if statErr == nil && info.IsDir() {
		return i.ImportDir(ctx, target)
	}

	image, err := i.ImportFile(ctx, target)
	report := &Report{}
	report.add(Result{Source: target, Image: image, Err: err})
	return report, nil
}

// Watch imports every file that appears in dir until ctx ends. onResult, if
// set, is called after each attempt.
func (i *Importer) Watch(ctx context.Context, dir string, onResult func(Result)) error {
	slog.Info("Watching directory for images", "directory", dir)
	return utils.WatchDirectory(ctx, dir, i.settle, func(path string) {
		if strings.HasPrefix(filepath.Base(path), ".") {
			return
		}
		image, err := i.ImportFile(ctx, path)
		if err != nil {
			slog.Warn("Failed to import watched file", "path", path, "kind", secure.KindOf(err), "error", err)
		} else {
			slog.Info("Imported watched file", "path", path, "image_id", image.ImageID)
		}
		if onResult != nil {
			onResult(Result{Source: path, Image: image, Err: err})
		}
	})
}
