package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 100 * time.Millisecond

// Watch reloads path whenever it changes and passes each valid config to onChange. Invalid
// files are logged and skipped. The parent directory is watched so that editors replacing the
// file by rename are seen. Watch blocks until ctx is done.
//
// Parameters:
//   - ctx: stops the watcher
//   - path: config file path
//   - log: logger for reload results
//   - onChange: called with every successfully reloaded config
//
// Returns:
//   - error: watcher setup failure, or nil once ctx is done
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	log.Info("watching config", zap.String("path", abs))

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("config reload rejected", zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("path", abs))
			onChange(cfg)
		}
	}
}
