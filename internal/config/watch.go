package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// #region watcher
// Watcher keeps the latest valid Config for a file and reloads it when the file changes.
// An edit that fails to parse or validate leaves the previous value in place.
type Watcher struct {
	path    string
	lookup  LookupFunc
	logger  *slog.Logger
	current atomic.Pointer[Config]
	changes chan Config
}

// NewWatcher seeds the watcher with initial, typically the result of Load(path).
func NewWatcher(path string, initial Config, lookup LookupFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{path: path, lookup: lookup, logger: logger, changes: make(chan Config, 1)}
	w.current.Store(&initial)
	return w
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

// Changes delivers each successfully reloaded configuration. Slow readers only
// see the most recent one.
func (w *Watcher) Changes() <-chan Config {
	return w.changes
}

// Reload re-reads the file and swaps it in when valid.
func (w *Watcher) Reload() error {
	cfg, err := LoadWithEnv(w.path, w.lookup)
	if err != nil {
		return err
	}
	prev := w.Current()
	w.current.Store(&cfg)
	if prev.Mode() != cfg.Mode() {
		w.logger.Info("rig mode changed", "from", prev.Mode(), "to", cfg.Mode())
	}
	select {
	case <-w.changes:
	default:
	}
	w.changes <- cfg
	return nil
}
// #endregion watcher

// #region run
// Run watches the file's directory until ctx is done. Editors that replace the
// file by rename are handled because the directory, not the inode, is watched.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("config reload rejected, keeping previous", "path", w.path, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
// #endregion run
