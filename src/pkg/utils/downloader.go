package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/singleflight"
)

var downloadGroup singleflight.Group

func fetch(ctx context.Context, cli *http.Client, url string, limit int64) (data []byte, retErr error) {
	slog.Info("Starting download", "url", url)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if reqErr != nil {
		return nil, fmt.Errorf("failed to create request: %w", reqErr)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer func() {
		retErr = errors.Join(retErr, resp.Body.Close())
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d %s", resp.StatusCode, resp.Status)
	}

	size, err := strconv.Atoi(resp.Header.Get("Content-Length"))
	if err != nil {
		size = -1 // Unknown size
	}

	progress := &progressWriter{total: size}
	data, err = io.ReadAll(io.TeeReader(io.LimitReader(resp.Body, limit), progress))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}

	slog.Info("Download finished", "url", url, "bytes", len(data))
	return data, nil
}

// FetchURL downloads at most limit bytes from url. Concurrent calls for the
// same url share one request, made with the context of the first caller, and
// receive the same slice, which must not be modified.
func FetchURL(ctx context.Context, cli *http.Client, url string, limit int64) ([]byte, error) {
	if !IsHTTP(url) {
		return nil, fmt.Errorf("unsupported url %q", url)
	}
	if cli == nil {
		cli = http.DefaultClient
	}

	v, err, shared := downloadGroup.Do(url, func() (interface{}, error) {
		return fetch(ctx, cli, url, limit)
	})
	if shared {
		slog.Debug("Download shared with concurrent caller", "url", url)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

type progressWriter struct {
	total   int
	written int
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += n
	if pw.total > 0 {
		slog.Debug("Download progress", "progress", fmt.Sprintf("%.2f%%", float64(pw.written)/float64(pw.total)*100))
	} else {
		slog.Debug("Download progress", "bytes", pw.written)
	}
	return n, nil
}
