package bot

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kgb-bot/kgb/internal/logger"
)

// debounceDelay coalesces the burst of filesystem events an editor or
// configuration-management write produces into one reload.
const debounceDelay = 500 * time.Millisecond

// watchConfig reloads the configuration whenever its file changes on
// disk. The parent directory is watched because most writers replace
// the file instead of updating it in place.
func (b *Bot) watchConfig(ctx context.Context) error {
	if b.configPath == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", logger.KeyError, err)
		<-ctx.Done()
		return ctx.Err()
	}
	defer w.Close()

	dir := filepath.Dir(b.configPath)
	if err := w.Add(dir); err != nil {
		logger.Warn("cannot watch config directory", "dir", dir, logger.KeyError, err)
		<-ctx.Done()
		return ctx.Err()
	}

	debounce := time.NewTimer(debounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	target := filepath.Clean(b.configPath)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(debounceDelay)

		case <-debounce.C:
			logger.Info("config file changed on disk, reloading")
			b.Reload()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", logger.KeyError, err)
		}
	}
}
