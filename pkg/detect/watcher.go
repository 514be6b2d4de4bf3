package detect

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 250 * time.Millisecond

// CatalogWatcher watches a signature catalog file and delivers freshly
// parsed signature sets to a callback. Detectors are immutable, so the
// callback's job is to build a replacement detector and swap it in; the
// watcher never touches a live one.
type CatalogWatcher struct {
	path     string
	onReload func([]Signature)
	log      zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewCatalogWatcher prepares a watcher for the catalog at path. Call Run to
// start it.
func NewCatalogWatcher(path string, onReload func([]Signature), log zerolog.Logger) *CatalogWatcher {
	return &CatalogWatcher{path: path, onReload: onReload, log: log}
}

// Run watches until the context is cancelled. The parent directory is
// watched rather than the file itself so atomic rename-into-place saves are
// seen.
func (w *CatalogWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Str("path", w.path).Msg("catalog watch error")
		}
	}
}

func (w *CatalogWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.reload)
}

func (w *CatalogWatcher) reload() {
	sigs, err := LoadCatalog(w.path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("signature catalog reload failed; keeping previous set")
		return
	}
	w.log.Info().Int("signatures", len(sigs)).Str("path", w.path).Msg("signature catalog reloaded")
	w.onReload(sigs)
}
