package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/streamflix/gateway/internal/observability"
)

// ReloadFunc receives each newly loaded and validated configuration.
type ReloadFunc func(*GatewayConfig)

// ReloadErrorFunc receives load, validation and watch errors.
type ReloadErrorFunc func(error)

// ErrWatcherStopped is returned by Start on a stopped watcher.
var ErrWatcherStopped = errors.New("config watcher stopped")

// Watcher reloads the configuration file when it changes on disk. The
// directory is watched rather than the file so editors and ConfigMap
// symlink swaps that replace the file are seen.
type Watcher struct {
	path     string
	fs       *fsnotify.Watcher
	onReload ReloadFunc
	onError  ReloadErrorFunc
	logger   observability.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current *GatewayConfig
	state   watcherState

	stopCh chan struct{}
	doneCh chan struct{}
}

type watcherState int

const (
	watcherIdle watcherState = iota
	watcherRunning
	watcherStopped
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay coalesces bursts of file events.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the watcher logger.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithErrorCallback is invoked for every failed reload.
func WithErrorCallback(fn ReloadErrorFunc) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher creates a watcher for path. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		fs:       fs,
		onReload: onReload,
		logger:   observability.NopLogger(),
		debounce: 250 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start loads the file once, then watches it until ctx is done or Stop is
// called. A failing initial load is returned and nothing is watched.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case watcherRunning:
		w.mu.Unlock()
		return nil
	case watcherStopped:
		w.mu.Unlock()
		return ErrWatcherStopped
	}
	w.mu.Unlock()

	cfg, err := LoadAndValidate(w.path)
	if err != nil {
		return err
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.mu.Lock()
	w.current = cfg
	w.state = watcherRunning
	w.mu.Unlock()

	w.logger.Info("watching configuration file", observability.String("path", w.path))
	go w.loop(ctx)
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.state == watcherRunning
	w.state = watcherStopped
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.fs.Close()
}

// Current returns the last configuration that loaded and validated.
func (w *Watcher) Current() *GatewayConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ForceReload reloads immediately, bypassing the debounce.
func (w *Watcher) ForceReload() error {
	cfg, err := LoadAndValidate(w.path)
	if err != nil {
		return err
	}
	w.apply(cfg)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("configuration file event",
				observability.String("path", ev.Name),
				observability.String("op", ev.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.fail("configuration watch error", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Clean(ev.Name)
	// Kubernetes swaps the ..data symlink rather than writing the file.
	return name == w.path || filepath.Base(name) == "..data"
}

func (w *Watcher) reload() {
	cfg, err := LoadAndValidate(w.path)
	if err != nil {
		w.fail("configuration reload rejected, keeping previous", err)
		return
	}
	w.apply(cfg)
	w.logger.Info("configuration reloaded", observability.String("path", w.path))
}

func (w *Watcher) apply(cfg *GatewayConfig) {
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

func (w *Watcher) fail(msg string, err error) {
	w.logger.Error(msg, observability.Error(err))
	if w.onError != nil {
		w.onError(err)
	}
}
