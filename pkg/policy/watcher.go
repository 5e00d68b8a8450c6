package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lattice-hq/lattice/pkg/observability"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reinstalls the policy set whenever the policy file changes on
// disk. Installation is idempotent, so a reload fully replaces the previous
// predicates. A file that fails to parse or install leaves the currently
// installed policies untouched.
type Watcher struct {
	path      string
	installer *Installer
	logger    *observability.Logger
}

// NewWatcher creates a policy file watcher
func NewWatcher(path string, installer *Installer, logger *observability.Logger) *Watcher {
	return &Watcher{path: path, installer: installer, logger: logger}
}

// Watch blocks until ctx is cancelled, reloading on file changes. Editors
// commonly replace files via rename, so the parent directory is watched and
// events are filtered to the policy file itself.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Policy file watcher error")
		case <-reload:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	set, err := LoadFile(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Policy reload failed, keeping installed policies")
		return
	}
	if err := w.installer.InstallAll(ctx, set); err != nil {
		w.logger.WithError(err).Error("Policy reinstall failed, keeping installed policies")
		return
	}
	w.logger.WithField("policies", len(set.Policies)).Info("Reloaded policy set")
}
