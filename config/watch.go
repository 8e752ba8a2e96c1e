package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it is written and hands the new,
// validated config to onChange. Invalid edits are logged and ignored.
func Watch(ctx context.Context, logger *slog.Logger, path string, onChange func(*AppConfig)) error {
	if path == "" {
		path = filepath.Join("config", "config.yaml")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config: %w", err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				c, err := Load(path)
				if err != nil {
					logger.Error("error reloading config", slog.Any("error", err))
					continue
				}
				logger.Debug("config reloaded", slog.String("path", path))
				onChange(c)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Debug("error watching config", slog.Any("error", err))
			}
		}
	}()

	return nil
}
