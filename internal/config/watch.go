package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch monitors path and calls onChange with the reloaded Config each time
// the file is written or recreated. A reload that fails to parse or validate
// is logged and the previous config stays active. Watch blocks until ctx is
// cancelled.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger.Info().Str("path", path).Msg("watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so Create counts as a write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadFile(path)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				logger.Error().Err(err).Str("path", path).Msg("config reload failed, keeping previous config")
				continue
			}

			logger.Info().Str("path", path).Msg("config reloaded")
			onChange(cfg)

			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("config watcher error")
		}
	}
}
