package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"poolnet/internal/check"
)

const (
	defaultWatchInterval = 2 * time.Second
	defaultSettleDelay   = 100 * time.Millisecond
)

// Listener receives configuration changes. prev is the config that was in
// effect before next was loaded.
type Listener interface {
	OnConfigChanged(next, prev *Config)
}

// Watcher reloads the config file when it changes on disk. Changes are
// picked up through file system notifications on the file's directory, so
// editors that save by renaming a temporary file are seen too. Where
// notifications are unavailable the file is polled for size and
// modification time. Files that fail to parse are logged and skipped; the
// previous config stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	settle   time.Duration
	listener Listener

	current *Config
	modTime time.Time
	size    int64

	// watching, when set, is called once changes are being observed.
	watching func()
}

// NewWatcher starts from the already-loaded config current.
func NewWatcher(path string, current *Config, listener Listener) *Watcher {
	check.Assert(current != nil, "config.NewWatcher: current must not be nil")
	check.Assert(listener != nil, "config.NewWatcher: listener must not be nil")
	if path == "" {
		path = Path()
	}
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		settle:   defaultSettleDelay,
		listener: listener,
		current:  current,
	}
	if fi, err := os.Stat(path); err == nil {
		w.modTime = fi.ModTime()
		w.size = fi.Size()
	}
	return w
}

// SetInterval overrides the polling interval used when notifications are
// unavailable. Must be called before Run.
func (w *Watcher) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// SetSettleDelay sets how long a burst of file events must be quiet before
// the file is reloaded. Must be called before Run.
func (w *Watcher) SetSettleDelay(d time.Duration) {
	if d > 0 {
		w.settle = d
	}
}

// Current returns the config currently in effect. Not safe to call
// concurrently with Run.
func (w *Watcher) Current() *Config { return w.current }

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	log := slog.With("component", "config-watcher", "path", w.path)

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fw.Add(filepath.Dir(w.path)); err != nil {
			fw.Close()
		}
	}
	if err != nil {
		log.Warn("file notifications unavailable, polling", "err", err, "interval", w.interval)
		return w.runPolling(ctx, log)
	}
	defer fw.Close()
	w.notifyWatching()
	return w.runNotify(ctx, fw, log)
}

func (w *Watcher) runNotify(ctx context.Context, fw *fsnotify.Watcher, log *slog.Logger) error {
	name := filepath.Base(w.path)
	settle := time.NewTimer(w.settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			settle.Reset(w.settle)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch config", "err", err)
		case <-settle.C:
			w.reload(log, true)
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context, log *slog.Logger) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.notifyWatching()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.reload(log, false)
		}
	}
}

func (w *Watcher) notifyWatching() {
	if w.watching != nil {
		w.watching()
	}
}

// reload loads the file when it changed since the last load. force skips the
// size and modification time comparison.
func (w *Watcher) reload(log *slog.Logger, force bool) {
	fi, err := os.Stat(w.path)
	if err != nil {
		log.Debug("stat config", "err", err)
		return
	}
	if !force && fi.ModTime().Equal(w.modTime) && fi.Size() == w.size {
		return
	}
	w.modTime = fi.ModTime()
	w.size = fi.Size()

	next, err := Load(w.path)
	if err != nil {
		log.Warn("config reload failed, keeping previous config", "err", err)
		return
	}
	prev := w.current
	w.current = next
	log.Info("config reloaded", "pools", len(next.pools))
	w.listener.OnConfigChanged(next, prev)
}
