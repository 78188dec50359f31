package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads a file-backed catalog when the file changes.
type Watcher struct {
	catalog  *Catalog
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	reloads chan error
}

// NewWatcher creates a watcher for the catalog file at path.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func NewWatcher(c *Catalog, path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create catalog watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch catalog directory: %w", err)
	}
	return &Watcher{
		catalog:  c,
		path:     abs,
		debounce: defaultDebounce,
		watcher:  fsw,
		logger:   logger,
		reloads:  make(chan error, 1),
	}, nil
}

// Reloads reports the outcome of every reload attempt (nil on success).
// Sends are non-blocking; an unread outcome is replaced by the next one.
func (w *Watcher) Reloads() <-chan error {
	return w.reloads
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("failed to close catalog watcher", "error", err)
		}
	}()

	w.logger.Info("Catalog watcher started", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			w.logger.Info("Catalog watcher shutting down", "reason", ctx.Err())
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Catalog watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	scenarios, err := readFile(w.path)
	if err == nil {
		err = w.catalog.Replace(scenarios)
	}
	if err != nil {
		w.logger.Error("Catalog reload failed, keeping previous catalog", "path", w.path, "error", err)
	} else {
		w.logger.Info("Catalog reloaded", "path", w.path, "scenarios", len(scenarios))
	}

	select {
	case <-w.reloads:
	default:
	}
	select {
	case w.reloads <- err:
	default:
	}
}
