// Package watch accumulates filesystem events for the server loop. The loop
// polls; the watcher's only contract is a non-blocking Drain of the paths
// touched since the previous drain.
package watch

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/rajeshgoli/engram/internal/log"
)

// Watcher coalesces fsnotify events into a set of touched paths.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	touched map[string]struct{}
	done    chan struct{}
}

// New starts watching the given directories and their immediate
// subdirectories; deeper levels are not watched. Missing directories are
// skipped.
func New(dirs []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		touched: map[string]struct{}{},
		done:    make(chan struct{}),
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			logger := log.WithComponent("watch")
			logger.Warn().Str("dir", dir).Err(err).Msg("cannot watch directory")
			continue
		}
		// Watch one level of subdirectories; deeper trees are picked up
		// by the git poll instead.
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				_ = fsw.Add(filepath.Join(dir, e.Name()))
			}
		}
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.touched[event.Name] = struct{}{}
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger := log.WithComponent("watch")
			logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// Drain returns and clears the paths touched since the last drain. Never
// blocks.
func (w *Watcher) Drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.touched) == 0 {
		return nil
	}
	paths := make([]string, 0, len(w.touched))
	for p := range w.touched {
		paths = append(paths, p)
	}
	w.touched = map[string]struct{}{}
	return paths
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
