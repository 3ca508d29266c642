package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// idleWait blocks until the poll interval elapses, the store file changes,
// or the context is cancelled. Loop mode uses it to pick up externally added
// tasks without a busy poll; waking early on a store write just means the
// next reload happens sooner.
func (e *Engine) idleWait(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.sleepCtx(ctx, timer)
		return
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic saves replace the store
	// by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(e.store.Path())); err != nil {
		e.sleepCtx(ctx, timer)
		return
	}

	storePath := e.store.Path()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				e.sleepCtx(ctx, timer)
				return
			}
			if ev.Name == storePath && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				e.log.Infof("store changed on disk, waking")
				return
			}
		case <-watcher.Errors:
		}
	}
}

func (e *Engine) sleepCtx(ctx context.Context, timer *time.Timer) {
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
