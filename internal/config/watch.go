package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DebounceDelay coalesces the burst of events an editor produces for one save.
var DebounceDelay = 250 * time.Millisecond

// Watch calls fn with the new configuration each time the file at path
// changes and still parses. Invalid or unchanged content is logged and
// ignored. fn runs on the Watch goroutine. Watch returns nil when ctx is
// cancelled.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by rename are seen.
func Watch(ctx context.Context, path string, log zerolog.Logger, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	last, err := Load(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("initial config invalid; waiting for a fix")
	}

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	log.Debug().Str("dir", dir).Str("file", file).Msg("config watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(DebounceDelay, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(DebounceDelay)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", path).Msg("config watch error")

		case <-reload:
			cfg, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("config rejected")
				continue
			}
			if last != nil && *last == *cfg {
				log.Debug().Str("path", path).Msg("config unchanged")
				continue
			}
			last = cfg
			log.Info().Str("path", path).Msg("config reloaded")
			fn(cfg)
		}
	}
}
