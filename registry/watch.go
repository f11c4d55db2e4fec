package registry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch blocks until ctx is done, reloading the registry whenever the
// backing file changes. Filesystem notification is the primary signal;
// an mtime poll backs it up because editors that replace the file
// (rename-over) can unhook a watch on some platforms. A failed reload
// keeps the previous snapshot and is only logged.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("fsnotify unavailable, falling back to mtime polling", "error", err)
		return r.pollLoop(ctx)
	}
	defer watcher.Close()

	// Watch the directory, not the file: rename-over replacement keeps
	// delivering events for the parent directory.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		r.logger.Warn("watch services directory failed, falling back to mtime polling",
			"dir", dir, "error", err)
		return r.pollLoop(ctx)
	}

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	// Coalesce bursts of events (editors often write several) into one
	// reload after a short settle delay.
	var settle *time.Timer
	settleCh := make(chan struct{}, 1)
	scheduleReload := func() {
		if settle != nil {
			settle.Stop()
		}
		settle = time.AfterFunc(200*time.Millisecond, func() {
			select {
			case settleCh <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return r.pollLoop(ctx)
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return r.pollLoop(ctx)
			}
			r.logger.Warn("services file watch error", "error", err)

		case <-settleCh:
			r.reloadIfChanged()

		case <-ticker.C:
			r.reloadIfChanged()
		}
	}
}

// pollLoop is the degraded watch mode: mtime comparison on a timer.
func (r *Registry) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reloadIfChanged()
		}
	}
}

// reloadIfChanged reloads only when the file's mtime moved past the one
// recorded in the current snapshot.
func (r *Registry) reloadIfChanged() {
	info, err := os.Stat(r.path)
	if err != nil {
		r.logger.Warn("stat services file failed", "path", r.path, "error", err)
		return
	}

	if !info.ModTime().After(r.sourceModTime()) {
		return
	}

	if err := r.Reload(); err != nil {
		r.logger.Error("services reload failed, keeping previous snapshot",
			"path", r.path, "error", err)
	}
}
