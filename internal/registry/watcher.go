package registry

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RosterWatcher reloads the roster file when it changes, registering any
// newly declared agents. Existing agents are never modified or removed by a
// reload; registration stays idempotent.
type RosterWatcher struct {
	registry   *Registry
	rosterPath string

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu       sync.Mutex
	onReload func(added int, err error)
}

// NewRosterWatcher creates a watcher for the given roster file.
func NewRosterWatcher(reg *Registry, rosterPath string) (*RosterWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create roster watcher: %w", err)
	}

	// Watch the parent directory: editors commonly replace the file, which
	// drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(rosterPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch roster directory: %w", err)
	}

	w := &RosterWatcher{
		registry:   reg,
		rosterPath: rosterPath,
		watcher:    watcher,
		done:       make(chan struct{}),
	}

	go w.loop()

	return w, nil
}

// SetOnReload sets a callback invoked after each reload attempt.
func (w *RosterWatcher) SetOnReload(fn func(added int, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// loop processes file system events until Close is called.
func (w *RosterWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.rosterPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next event still arrives or
			// the watcher is closed.
		case <-w.done:
			return
		}
	}
}

// reload re-reads the roster and registers new agents.
func (w *RosterWatcher) reload() {
	roster, err := LoadRoster(w.rosterPath)

	var added int
	if err == nil {
		added = w.registry.Apply(roster)
	}

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()

	if fn != nil {
		fn(added, err)
	}
}

// Close stops the watcher.
func (w *RosterWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
