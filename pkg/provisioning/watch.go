package provisioning

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// DefaultWatchDelay is how long a manifest directory must be quiet before
// new manifests are applied
const DefaultWatchDelay = 2 * time.Second

// ApplyFunc applies the steps loaded after a manifest change
type ApplyFunc func(ctx context.Context, steps []Step) error

// ManifestWatcher applies manifests as they are added to a directory.
// Editors write files in bursts, so changes are debounced before reloading.
type ManifestWatcher struct {
	dir    string
	delay  time.Duration
	apply  ApplyFunc
	logger *observability.Logger
}

// NewManifestWatcher creates a watcher for dir
func NewManifestWatcher(dir string, delay time.Duration, apply ApplyFunc, logger *observability.Logger) *ManifestWatcher {
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &ManifestWatcher{
		dir:    dir,
		delay:  delay,
		apply:  apply,
		logger: logger.WithField("component", "manifest_watcher"),
	}
}

// Run watches until ctx is cancelled. A manifest that fails to load or
// apply is logged and retried on the next change.
func (w *ManifestWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.WithField("dir", w.dir).Info("Watching provisioning manifests")

	timer := time.NewTimer(w.delay)
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
			if !isManifestEvent(event) {
				continue
			}
			w.logger.WithField("file", event.Name).Debug("Manifest changed")
			timer.Reset(w.delay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Manifest watcher error")
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *ManifestWatcher) reload(ctx context.Context) {
	steps, err := LoadSteps(w.dir)
	if err != nil {
		w.logger.WithError(err).Error("Failed to load provisioning manifests")
		return
	}
	if err := w.apply(ctx, steps); err != nil {
		w.logger.WithError(err).Error("Failed to apply provisioning manifests")
	}
}

func isManifestEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	ext := filepath.Ext(event.Name)
	return ext == ".yaml" || ext == ".yml"
}
