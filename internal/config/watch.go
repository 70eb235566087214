package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"ai_gateway/internal/logging"
)

// Watch reloads the routing section of the file at path whenever it changes
// and hands the merged result to onChange. Invalid edits are logged and
// ignored so a typo never takes routing down. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, base RoutingConfig, onChange func(RoutingConfig)) error {
	logger := logging.NewLogger("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace files via rename, so watch the directory.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			routing, err := reloadRouting(target, base)
			if err != nil {
				logger.Warn("Ignoring invalid config change", "path", target, "error", err)
				continue
			}
			logger.Info("Routing configuration reloaded",
				"default_provider", routing.DefaultProvider,
				"fallback_order", routing.FallbackOrder,
				"max_attempts", routing.MaxAttempts)
			onChange(routing)
		}
	}
}

func reloadRouting(path string, base RoutingConfig) (RoutingConfig, error) {
	file, err := ReadFile(path)
	if err != nil {
		return RoutingConfig{}, err
	}
	routing := base
	if file.Routing != nil {
		routing = file.Routing.Merge(base)
	}
	if err := routing.Validate(); err != nil {
		return RoutingConfig{}, err
	}
	return routing, nil
}
