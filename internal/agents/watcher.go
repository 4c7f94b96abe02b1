package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce collapses editor save bursts into one reload.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the directory whenever a profile changes until ctx is done.
// Long-lived processes (worker, serve) use it; each run still works from the
// Snapshot it took at start.
func (d *Directory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating agent watcher: %w", err)
	}
	if err := watcher.Add(d.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", d.dir, err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !supported(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					pending = time.After(reloadDebounce)
				}
			case <-pending:
				pending = nil
				if _, err := d.Load(ctx); err != nil {
					d.logger.Error(ctx, "agent reload failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn(ctx, "agent watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
