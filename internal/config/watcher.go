package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounceDelay = 500 * time.Millisecond

// Watcher reloads configuration files when they change. Only values that can
// safely change at runtime are propagated: the sync quiet period and retry
// delay, and the log level.
type Watcher struct {
	loader    *Loader
	logger    *zap.Logger
	debounce  time.Duration
	fsWatcher *fsnotify.Watcher

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher starts watching the loader's directory. The returned watcher is
// inert outside development.
func NewWatcher(initial *Config, loader *Loader, logger *zap.Logger) (*Watcher, error) {
	return newWatcher(initial, loader, logger, defaultDebounceDelay)
}

func newWatcher(initial *Config, loader *Loader, logger *zap.Logger, debounce time.Duration) (*Watcher, error) {
	w := &Watcher{
		loader:   loader,
		logger:   logger,
		debounce: debounce,
		config:   initial,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if !initial.IsDevelopment() {
		close(w.doneCh)
		logger.Info("Configuration hot reloading disabled",
			zap.String("environment", string(initial.Environment)),
		)
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(loader.BasePath()); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", loader.BasePath(), err)
	}
	w.fsWatcher = fsWatcher

	go w.watchLoop()

	logger.Info("Configuration hot reloading enabled",
		zap.String("dir", loader.BasePath()),
	)
	return w, nil
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)
	defer w.fsWatcher.Close()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isConfigFile(event.Name) {
				continue
			}
			w.logger.Debug("Configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()),
			)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := w.loader.Load()
	if err != nil {
		w.logger.Error("Invalid configuration after reload, keeping previous values", zap.Error(err))
		return
	}

	w.mu.Lock()
	prev := w.config
	if !hotValuesChanged(prev, next) {
		w.mu.Unlock()
		w.logger.Debug("Configuration unchanged after reload")
		return
	}
	// Only hot values are carried over; everything else needs a restart.
	merged := *prev
	merged.Sync.QuietPeriod = next.Sync.QuietPeriod
	merged.Sync.RetryDelay = next.Sync.RetryDelay
	merged.Logging.Level = next.Logging.Level
	w.config = &merged
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded",
		zap.Duration("quietPeriod", merged.Sync.QuietPeriod),
		zap.Duration("retryDelay", merged.Sync.RetryDelay),
		zap.String("logLevel", merged.Logging.Level),
	)

	for i, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Configuration callback panicked",
						zap.Int("callbackIndex", i),
						zap.Any("panic", r),
					)
				}
			}()
			cb(&merged)
		}()
	}
}

func hotValuesChanged(a, b *Config) bool {
	return a.Sync.QuietPeriod != b.Sync.QuietPeriod ||
		a.Sync.RetryDelay != b.Sync.RetryDelay ||
		a.Logging.Level != b.Logging.Level
}

// OnChange registers a callback invoked after each successful reload.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop stops watching and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func isConfigFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}
