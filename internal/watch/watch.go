// Package watch reports external changes to open files.
//
// Events are debounced per path: a burst of writes to one file yields one
// callback after the file has been quiet for the debounce interval.
package watch

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by operations on a closed watcher.
var ErrClosed = errors.New("watch: watcher is closed")

// Op is the kind of change.
type Op string

const (
	Create Op = "create"
	Modify Op = "modify"
	Delete Op = "delete"
	Rename Op = "rename"
)

// Event is one debounced change.
type Event struct {
	Path string
	Op   Op
}

// Watcher watches the directories of a set of files.
type Watcher struct {
	debounce time.Duration
	callback func(Event)
	onError  func(error)
	watcher  *fsnotify.Watcher
	done     chan struct{}

	mu     sync.Mutex
	closed bool
	files  map[string]int
	dirs   map[string]int
	timers map[string]*time.Timer
}

// New creates a watcher and starts its event loop. callback runs on a
// timer goroutine; onError may be nil.
func New(debounce time.Duration, callback func(Event), onError func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		debounce: debounce,
		callback: callback,
		onError:  onError,
		watcher:  fw,
		done:     make(chan struct{}),
		files:    make(map[string]int),
		dirs:     make(map[string]int),
		timers:   make(map[string]*time.Timer),
	}
	go w.loop()
	return w, nil
}

// Add starts reporting changes to path. Calls are reference counted.
func (w *Watcher) Add(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch: watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[path]++
	return nil
}

// Remove stops reporting changes to path.
func (w *Watcher) Remove(path string) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.files[path] == 0 {
		return
	}
	if w.files[path]--; w.files[path] == 0 {
		delete(w.files, path)
		if t, ok := w.timers[path]; ok {
			t.Stop()
			delete(w.timers, path)
		}
	}
	if w.dirs[dir]--; w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		_ = w.watcher.Remove(dir)
	}
}

// Close stops the watcher and cancels pending callbacks.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	for _, t := range w.timers {
		t.Stop()
	}
	clear(w.timers)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	var op Op
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		op = Create
	case ev.Op&fsnotify.Write == fsnotify.Write:
		op = Modify
	case ev.Op&fsnotify.Remove == fsnotify.Remove:
		op = Delete
	case ev.Op&fsnotify.Rename == fsnotify.Rename:
		op = Rename
	default:
		return
	}
	w.schedule(Event{Path: filepath.Clean(ev.Name), Op: op})
}

// schedule debounces e per path.
func (w *Watcher) schedule(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.files[e.Path] == 0 {
		return
	}
	if t, ok := w.timers[e.Path]; ok {
		t.Stop()
	}
	w.timers[e.Path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.timers, e.Path)
		w.mu.Unlock()
		w.callback(e)
	})
}
