package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDuration = 250 * time.Millisecond

// Watcher re-discovers and re-syncs the catalog when a manifest changes.
type Watcher struct {
	roots    []string
	store    Store
	logger   *slog.Logger
	debounce time.Duration

	// onSync is called after every re-sync; tests hook it.
	onSync func(*Catalog, error)
}

func NewWatcher(roots []string, store Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{roots: roots, store: store, logger: logger.With("component", "catalog"), debounce: debounceDuration}
}

// Run watches every directory under the roots until ctx is done. Bursts of
// events are coalesced into one re-sync.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	roots, err := resolveRoots(w.roots)
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := addTree(fw, root); err != nil {
			return err
		}
	}
	w.logger.Info("watching persona manifests", "roots", roots)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						w.logger.Warn("new directory not watched", "path", ev.Name, "error", err)
					}
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.resync(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) resync(ctx context.Context) {
	cat, err := Discover(w.roots, w.logger)
	if err == nil {
		var n int
		n, err = Sync(ctx, w.store, cat)
		if err == nil {
			w.logger.Info("persona catalog re-synced", "personas", n)
		}
	}
	if err != nil {
		w.logger.Error("persona catalog re-sync failed", "error", err)
	}
	if w.onSync != nil {
		w.onSync(cat, err)
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
