package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watcher invalidates an Inventory when the plugin or theme directories change.
type Watcher struct {
	inv      *Inventory
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates a watcher for inv's directories. Start begins delivery.
func NewWatcher(inv *Inventory) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		inv:      inv,
		watcher:  w,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start watches each configured root and its immediate subdirectories.
// Roots that do not exist are skipped; Start fails only if nothing can be watched.
func (w *Watcher) Start() error {
	logger := w.inv.cfg.Logger
	watched := 0
	for _, root := range []string{w.inv.cfg.PluginsDir, w.inv.cfg.ThemesDir} {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if err := w.watcher.Add(root); err != nil {
			logger.Warn().Err(err).Str("path", root).Msg("Failed to watch product directory")
			continue
		}
		watched++
		w.addSubdirs(root)
	}
	if watched == 0 {
		close(w.done)
		return errors.New("no product directories could be watched")
	}

	go w.loop()
	logger.Info().
		Str("plugins_dir", w.inv.cfg.PluginsDir).
		Str("themes_dir", w.inv.cfg.ThemesDir).
		Msg("Started watching product directories")
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		_ = w.watcher.Close()
	})
	<-w.done
}

func (w *Watcher) addSubdirs(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			_ = w.watcher.Add(filepath.Join(root, e.Name()))
		}
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	logger := w.inv.cfg.Logger

	var debounce <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 && debounce == nil {
				debounce = time.After(watchDebounce)
			}

		case <-debounce:
			debounce = nil
			logger.Debug().Msg("Product directories changed; invalidating inventory")
			w.inv.Invalidate()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Product directory watcher error")

		case <-w.stopChan:
			return
		}
	}
}
