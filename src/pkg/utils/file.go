package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var ErrNotRegular = errors.New("not a regular file")

// ReadFileLimited reads at most limit bytes from path. Symbolic links and
// anything other than a regular file are refused.
func ReadFileLimited(path string, limit int64) (data []byte, retErr error) {
	info, lstatErr := os.Lstat(path)
	if lstatErr != nil {
		return nil, lstatErr
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, openErr
	}
	defer func() {
		retErr = errors.Join(retErr, file.Close())
	}()

	// The path may have been swapped between Lstat and Open.
	opened, statErr := file.Stat()
	if statErr != nil {
		return nil, statErr
	}
	if !os.SameFile(info, opened) {
		return nil, fmt.Errorf("%s: file changed while opening: %w", path, ErrNotRegular)
	}

	return io.ReadAll(io.LimitReader(file, limit))
}

// WatchDirectory calls fn for every file created or written in dir once it has
// been quiet for settle. It blocks until ctx is done or the watcher fails.
func WatchDirectory(ctx context.Context, dir string, settle time.Duration, fn func(path string)) error {
	watcher, watcherErr := fsnotify.NewWatcher()
	if watcherErr != nil {
		return watcherErr
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Error("WatchDirectory: failed to close watcher", "error", err)
		}
	}()

	if addErr := watcher.Add(dir); addErr != nil {
		return addErr
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	pending := map[string]*time.Timer{}
	defer func() {
		mu.Lock()
		for path, timer := range pending {
			if timer.Stop() {
				wg.Done()
			}
			delete(pending, path)
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if timer, ok := pending[path]; ok && timer.Stop() {
			timer.Reset(settle)
			return
		}
		wg.Add(1)
		var timer *time.Timer
		timer = time.AfterFunc(settle, func() {
			defer wg.Done()
			mu.Lock()
			if pending[path] == timer {
				delete(pending, path)
			}
			mu.Unlock()
			fn(path)
		})
		pending[path] = timer
	}

	slog.Debug("WatchDirectory: starting to watch directory", "directory", dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			slog.Debug("WatchDirectory: received event", "event", event.Op, "name", event.Name)
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				schedule(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Warn("WatchDirectory: watcher error", "directory", dir, "error", err)
		}
	}
}
