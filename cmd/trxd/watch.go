package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rjboer/GoTRX/internal/logging"
	"github.com/rjboer/GoTRX/internal/sdr"
)

const reloadDebounce = 100 * time.Millisecond

// watchTone re-reads the config file whenever it changes and applies its
// tone settings to the running device. Other settings need a restart.
func watchTone(ctx context.Context, path string, dev *sdr.MockDevice, logger logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() { reloadTone(path, dev, logger) })
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watch error", logging.Err(err))
			}
		}
	}()
	return nil
}

func reloadTone(path string, dev *sdr.MockDevice, logger logging.Logger) {
	cfg, err := loadConfig(path)
	if err != nil {
		logger.Warn("config reload failed, keeping current tone", logging.Err(err))
		return
	}
	dev.SetTone(cfg.ToneOffset, cfg.Amplitude)
	logger.Info("tone reloaded", logging.F("tone_offset", cfg.ToneOffset), logging.F("amplitude", cfg.Amplitude))
}
