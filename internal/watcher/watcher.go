// Package watcher provides drop-folder ingestion: each watched directory is
// bound to one equipment, and files dropped there are ingested into its
// knowledge base.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fieldline/voicekb/internal/config"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches equipment-bound drop folders with fsnotify. Folders are
// flat: subdirectories inside a drop folder are ignored.
type Watcher struct {
	onIngest func(path, equipmentID string)
	onRemove func(path, equipmentID string)

	extensions []string
	debounce   time.Duration
	logger     *zap.Logger // optional

	mu          sync.Mutex
	dirs        map[string]string // watched path -> equipment id
	debounceMap map[string]*time.Timer
	watcher     *fsnotify.Watcher
	started     bool
	done        chan struct{}
	stopOnce    sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the write-settle delay before a dropped file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher. onIngest runs for each settled file create or
// write; onRemove runs when a watched file disappears. extensions filter
// which files react (empty = all).
func NewWatcher(extensions []string, onIngest, onRemove func(path, equipmentID string), opts ...Option) *Watcher {
	w := &Watcher{
		onIngest:    onIngest,
		onRemove:    onRemove,
		extensions:  extensions,
		debounce:    defaultDebounce,
		dirs:        make(map[string]string),
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the given directories. Missing directories are
// created. It returns after the event loop is running; Stop ends it.
func (w *Watcher) Start(dirs []config.WatchDirectory) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.started = true
	for _, d := range dirs {
		if err := w.addLocked(d.Path, d.EquipmentID); err != nil {
			_ = fsw.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run()
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	equipmentID, ok := w.equipmentFor(path)
	if !ok || !w.matchExtension(path) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watch event",
			zap.String("op", ev.Op.String()),
			zap.String("path", path),
			zap.String("equipment_id", equipmentID))
	}
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
		w.debounceIngest(path, equipmentID)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		if w.onRemove != nil {
			w.onRemove(path, equipmentID)
		}
	}
}

// equipmentFor maps a file path back to its drop folder's equipment id.
func (w *Watcher) equipmentFor(path string) (string, bool) {
	dir := filepath.Dir(filepath.Clean(path))
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.dirs[dir]
	return id, ok
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range w.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// debounceIngest waits for writes to settle before ingesting, so a file being
// copied in is not picked up half-written.
func (w *Watcher) debounceIngest(path, equipmentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		if w.onIngest != nil {
			w.onIngest(path, equipmentID)
		}
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// AddDirectory binds a drop folder to an equipment and starts watching it.
// Existing files in the folder are ingested in the background.
func (w *Watcher) AddDirectory(path, equipmentID string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return nil
	}
	if _, ok := w.dirs[filepath.Clean(abs)]; ok {
		w.mu.Unlock()
		return nil
	}
	if err := w.addLocked(abs, equipmentID); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	go w.syncDirectory(abs, equipmentID)
	return nil
}

func (w *Watcher) addLocked(path, equipmentID string) error {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if err := w.watcher.Add(path); err != nil {
		return err
	}
	w.dirs[path] = equipmentID
	if w.logger != nil {
		w.logger.Info("watching drop folder",
			zap.String("path", path), zap.String("equipment_id", equipmentID))
	}
	return nil
}

// syncDirectory ingests files already present in a drop folder.
func (w *Watcher) syncDirectory(root, equipmentID string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if filepath.Clean(path) != filepath.Clean(root) {
				return fs.SkipDir
			}
			return nil
		}
		if w.matchExtension(path) && w.onIngest != nil {
			w.onIngest(path, equipmentID)
		}
		return nil
	})
}

// SyncExistingFiles ingests files already present in every watched folder.
// Call after Start to pick up files dropped while the server was down.
func (w *Watcher) SyncExistingFiles() {
	w.mu.Lock()
	dirs := make(map[string]string, len(w.dirs))
	for p, id := range w.dirs {
		dirs[p] = id
	}
	w.mu.Unlock()
	for p, id := range dirs {
		w.syncDirectory(p, id)
	}
}

// RemoveDirectory stops watching a drop folder. Documents already ingested
// from it are untouched.
func (w *Watcher) RemoveDirectory(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	if _, ok := w.dirs[abs]; !ok {
		return nil
	}
	_ = w.watcher.Remove(abs)
	delete(w.dirs, abs)
	if w.logger != nil {
		w.logger.Info("stopped watching drop folder", zap.String("path", abs))
	}
	return nil
}

// Directories returns the current folder-to-equipment bindings.
func (w *Watcher) Directories() []config.WatchDirectory {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]config.WatchDirectory, 0, len(w.dirs))
	for p, id := range w.dirs {
		out = append(out, config.WatchDirectory{Path: p, EquipmentID: id})
	}
	return out
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
