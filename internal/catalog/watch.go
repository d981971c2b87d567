package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/leapask/internal/sheet"
)

// DefaultDebounce is how long Watch waits after the last event for a file
// before reindexing it. Spreadsheet tools write files in several steps.
const DefaultDebounce = 300 * time.Millisecond

// Watch keeps the index in sync with the data directory until ctx is done.
// Created or written files are registered, removed or renamed ones dropped.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration) error {
	if c.dataDir == "" {
		return fmt.Errorf("no data directory configured")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(c.dataDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dataDir, err)
	}
	c.logger.Info("watching data directory", "dir", c.dataDir)

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
		wg     sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string, op fsnotify.Op) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok && t.Stop() {
			wg.Done()
		}
		wg.Add(1)
		timers[path] = time.AfterFunc(debounce, func() {
			defer wg.Done()
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			c.apply(ctx, path, op)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !sheet.Supported(name) || isHidden(name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			schedule(event.Name, event.Op)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watcher error", "error", err)
		}
	}
}

// apply handles the last event seen for path.
func (c *Catalog) apply(ctx context.Context, path string, op fsnotify.Op) {
	if ctx.Err() != nil {
		return
	}
	if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if _, ok := c.Lookup(filepath.Base(path)); !ok {
			return
		}
		if err := c.Remove(ctx, filepath.Base(path)); err != nil {
			c.logger.Warn("failed to drop dataset", "file", filepath.Base(path), "error", err)
		}
		return
	}
	if _, err := c.Register(ctx, path); err != nil {
		c.logger.Warn("failed to index file", "file", filepath.Base(path), "error", err)
	}
}
