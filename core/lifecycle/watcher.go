package lifecycle

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/core/logger"
)

// Watcher rescans the modules directory when it changes, so modules dropped
// in while the host runs are discovered without a restart. Loading discovered
// modules stays an explicit operator action.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	// debounce coalesces the event bursts file managers produce per copy.
	debounce time.Duration
}

// NewWatcher creates a Watcher over the manager's modules directory.
func NewWatcher(manager *Manager) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(manager.cfg.ModulesDir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{manager: manager, watcher: fw, debounce: 500 * time.Millisecond}, nil
}

// Run processes filesystem events until the context is cancelled.
// Intended to run as a dedicated goroutine.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if discovered, err := w.manager.Scan(ctx); err != nil {
				logger.Error(ctx, "Rescan of modules directory failed", zap.Error(err))
			} else if len(discovered) > 0 {
				logger.Info(ctx, "New modules discovered",
					zap.Strings("modules", discovered))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn(ctx, "Modules directory watcher error", zap.Error(err))
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
