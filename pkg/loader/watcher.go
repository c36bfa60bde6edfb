package loader

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ha1tch/sqlext/pkg/log"
)

// Watcher purges a loader's resolution cache when module files under the
// search paths change.
type Watcher struct {
	mu sync.Mutex

	loader    *Loader
	paths     []string
	logger    *log.Logger
	fsWatcher *fsnotify.Watcher

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Debouncing: events are collected and handled in one batch
	debounceDelay time.Duration
	pending       map[string]fsnotify.Op
	timer         *time.Timer

	onChange func(paths []string)
	onError  func(err error)
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for batching file events.
// Default is 100ms.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithOnChange sets a callback run after the cache has been purged.
func WithOnChange(fn func(paths []string)) WatcherOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// WithOnError sets a callback for watcher errors.
func WithOnError(fn func(err error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// NewWatcher creates a watcher over paths for l.
func NewWatcher(l *Loader, paths []string, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		loader:        l,
		logger:        l.logger,
		fsWatcher:     fsw,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		debounceDelay: 100 * time.Millisecond,
		pending:       make(map[string]fsnotify.Op),
	}
	for _, p := range paths {
		if p != "" {
			w.paths = append(w.paths, p)
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Paths that cannot be watched are logged and
// ignored.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, p := range w.paths {
		if err := w.fsWatcher.Add(p); err != nil {
			w.logger.Loader().Warn("failed to watch module directory",
				"path", p,
				"error", err.Error(),
			)
			continue
		}
		w.logger.Loader().Debug("watching module directory", "path", p)
	}

	go w.processEvents()
	w.logger.Loader().Info("module watcher started", "paths", len(w.paths))
	return nil
}

// Stop stops the watcher and waits for the event loop to exit. A watcher
// that was never started is closed as well.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
		w.logger.Loader().Info("module watcher stopped")
	}
	return w.fsWatcher.Close()
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Loader().Error("watcher error", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if w.loader.skipped(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	// Last operation wins for the same file
	w.pending[event.Name] = event.Op

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	events := w.pending
	w.pending = make(map[string]fsnotify.Op)
	running := w.running
	w.mu.Unlock()

	if !running || len(events) == 0 {
		return
	}

	paths := make([]string, 0, len(events))
	for p := range events {
		paths = append(paths, filepath.Clean(p))
	}
	w.loader.cache.Purge()
	w.logger.Loader().Info("module files changed, resolution cache purged",
		"files", len(paths),
	)
	if w.onChange != nil {
		w.onChange(paths)
	}
}
