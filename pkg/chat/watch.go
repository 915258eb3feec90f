// Copyright 2024-2026 Aiku AI

package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultReloadDebounce groups the burst of events editors produce when
// saving a file.
const defaultReloadDebounce = 500 * time.Millisecond

// WatchConfig reloads the configuration whenever the config file changes,
// until ctx is done. The parent directory is watched so that atomic
// rename-over saves are noticed. Reload errors are logged and the previous
// configuration stays active.
//
// Pass 0 as debounce to use the default of 500 milliseconds.
func (s *Service) WatchConfig(ctx context.Context, debounce time.Duration) error {
	if s.configPath == "" {
		return ErrNoConfigPath
	}
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	target, err := filepath.Abs(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()
	if err = watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	log := s.log.With().Str("path", target).Logger()
	log.Info().Dur("debounce", debounce).Msg("Watching config file for changes")

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Config watcher stopped")
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-timer.C:
			if err := s.Reload(); err != nil {
				log.Error().Err(err).Msg("Failed to reload changed config, keeping previous one")
			} else {
				log.Info().Msg("Reloaded changed config")
			}
		}
	}
}
