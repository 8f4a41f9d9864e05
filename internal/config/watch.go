package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/lsm/streamview/internal/observability"
)

// Watcher applies log level changes from the config file while running.
type Watcher struct {
	path   string
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, level *slog.LevelVar, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, level: level, logger: logger}
}

// Watch blocks until ctx is done. The directory is watched rather than the
// file so editors that replace the file are followed.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}

	w.logger.Info("watching config file", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Info("config change detected", "file", event.Name, "op", event.Op)
				w.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	if _, set := os.LookupEnv(EnvLogLevel); set {
		w.logger.Info("log level is set in the environment, ignoring file change")
		return
	}
	vars, err := ReadFile(w.path)
	if err != nil {
		w.logger.Error("failed to reload config", "error", err)
		return
	}
	level := observability.ParseLogLevel(vars[EnvLogLevel])
	if level != w.level.Level() {
		w.logger.Info("log level changed", "from", w.level.Level(), "to", level)
		w.level.Set(level)
	}
}
