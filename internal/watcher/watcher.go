// Package watcher triggers corpus reloads when the file-backed reference corpus changes.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/fileid"
)

const defaultDebounce = 500 * time.Millisecond

// ReloadFunc is invoked once per burst of changes to the watched file.
type ReloadFunc func(ctx context.Context) error

// Watcher watches a single corpus file. The parent directory is watched rather than
// the file itself so that editors which replace the file on save are still seen.
type Watcher struct {
	path     string
	dir      string
	onChange ReloadFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	ctx      context.Context
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger
	reloads  int
	// last is the fingerprint of the contents most recently handed to onChange.
	last string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for watch events and reload failures.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the quiet period that must follow the last change before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for path. onChange is called after the file has been
// quiet for the debounce period.
func NewWatcher(path string, onChange ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watcher: corpus path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)
	w := &Watcher{
		path:     abs,
		dir:      filepath.Dir(abs),
		onChange: onChange,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the absolute path of the watched corpus file.
func (w *Watcher) Path() string {
	return w.path
}

// Reloads returns how many reloads the watcher has triggered.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Start starts watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if _, err := os.Stat(w.dir); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.last, _ = fileid.Fingerprint(w.path)
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.logger.Debug("corpus watcher starting", zap.String("path", w.path), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("corpus watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	w.logger.Debug("corpus watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	w.schedule()
}

// schedule restarts the debounce timer. A removed file is reloaded too: the reload
// fails with the corpus unavailable and the engine keeps serving its last index.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	fp, fpErr := fileid.Fingerprint(w.path)
	w.mu.Lock()
	w.timer = nil
	ctx := w.ctx
	started := w.started
	unchanged := fpErr == nil && fp == w.last
	if started && !unchanged {
		w.last = fp
		w.reloads++
	}
	w.mu.Unlock()
	if !started || w.onChange == nil {
		return
	}
	if unchanged {
		w.logger.Debug("corpus file rewritten without changes", zap.String("path", w.path))
		return
	}
	w.logger.Info("corpus file changed, reloading", zap.String("path", w.path))
	if err := w.onChange(ctx); err != nil {
		w.logger.Warn("corpus reload failed", zap.String("path", w.path), zap.Error(err))
	}
}

// Stop stops the watcher and releases resources. Pending reloads are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
