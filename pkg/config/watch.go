package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file whenever it changes. A file that
// fails to load or validate is logged and the previous configuration kept.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	onApply func(*Config)
}

// NewWatcher loads path and begins watching it. The directory is watched
// rather than the file so editors that replace the file are noticed.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	w := &Watcher{path: path, watcher: fw, logger: logger}
	w.current.Store(cfg)
	return w, nil
}

// OnApply registers fn to run after each successful reload. It must be
// called before Start.
func (w *Watcher) OnApply(fn func(*Config)) {
	w.onApply = fn
}

// SetLogger replaces the logger given to NewWatcher. It must be called
// before Start.
func (w *Watcher) SetLogger(logger *zap.Logger) {
	w.logger = logger
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Start processes file events until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

// Stop closes the file watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.current.Store(cfg)
	w.logger.Info("config reloaded",
		zap.String("path", w.path),
		zap.String("model", cfg.Upstream.Model),
		zap.Int("max_total_tokens", cfg.Budget.MaxTotalTokens),
		zap.Int("max_response_tokens", cfg.Budget.MaxResponseTokens),
		zap.String("overflow", cfg.Budget.Overflow),
	)
	if w.onApply != nil {
		w.onApply(cfg)
	}
}
