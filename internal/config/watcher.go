package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of events editors emit on save.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch emits on the returned channel after one of files changes and the
// debounce window passes without further events. Parent directories are watched
// so atomic rename-over saves are seen. The channel is closed when ctx ends.
func Watch(ctx context.Context, log *slog.Logger, debounce time.Duration, files ...string) (<-chan struct{}, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "config_watcher"))
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	targets := make(map[string]struct{}, len(files))
	dirs := make(map[string]struct{}, len(files))
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			log.Warn("resolve watch path failed", slog.String("file", file), slog.Any("error", err))
			continue
		}
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			log.Warn("watch dir failed", slog.String("dir", dir), slog.Any("error", err))
			continue
		}
		log.Debug("watching", slog.String("dir", dir))
	}

	reloadCh := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, tracked := targets[filepath.Clean(event.Name)]; !tracked {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
					timer.Reset(debounce)
				}
			case <-timer.C:
				log.Info("config change detected")
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("watcher error", slog.Any("error", err))
			}
		}
	}()
	return reloadCh, nil
}
