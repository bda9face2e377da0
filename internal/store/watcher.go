package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kvkushal/hls-stream-ops/internal/monitor"
)

// debounce coalesces the burst of filesystem events an editor save
// produces into one reload.
const debounce = 200 * time.Millisecond

// Watch reloads the streams file on external edits and hands the new
// stream set to onChange. It blocks until the context is cancelled.
//
// The parent directory is watched rather than the file itself: most
// editors (and our own Save) replace the file by rename, which drops a
// watch on the path.
func (s *FileStore) Watch(ctx context.Context, logger *slog.Logger, onChange func([]monitor.StreamConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	reload := func() {
		if s.recentlySaved() {
			return
		}
		streams, err := s.Load()
		if err != nil {
			logger.Warn("streams_file_reload_failed", "path", s.path, "error", err.Error())
			return
		}
		logger.Info("streams_file_reloaded", "path", s.path, "streams", len(streams))
		onChange(streams)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timerC = nil
			timer = nil
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("streams_file_watch_error", "error", err.Error())
		}
	}
}
