package workspace

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher records which files the agent subprocess touches while a task runs.
// It is purely observational: the authoritative modified-files set always
// comes from the snapshot diff. The engine uses the recorded paths for
// debug-level activity logging.
type Watcher struct {
	watcher *fsnotify.Watcher
	root    string
	done    chan struct{}

	mu      sync.Mutex
	touched map[string]struct{}
	closed  bool
}

// Watch starts watching root and its existing subdirectories. Directories
// created during the run are added to the watch as they appear.
func Watch(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fsw,
		root:    root,
		done:    make(chan struct{}),
		touched: make(map[string]struct{}),
	}

	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	// Best-effort: watch pre-existing subdirectories too.
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		fsw.Add(path)
		return nil
	})

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.record(event)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the diff is authoritative.
		}
	}
}

func (w *Watcher) record(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if base := filepath.Base(rel); strings.HasPrefix(base, ".") {
		return
	}

	// New directories need to be added so writes inside them are seen.
	if event.Op&fsnotify.Create != 0 {
		w.watcher.Add(event.Name)
	}

	w.mu.Lock()
	if !w.closed {
		w.touched[filepath.ToSlash(rel)] = struct{}{}
	}
	w.mu.Unlock()
}

// Touched returns the relative paths seen so far, in unspecified order.
func (w *Watcher) Touched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.touched))
	for p := range w.touched {
		paths = append(paths, p)
	}
	return paths
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}
