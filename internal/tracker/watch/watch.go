// Package watch turns raw fsnotify events into the event shapes the
// tracker consumes: create, modify, delete and paired moves.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventMove   EventType = "move"
)

type Event struct {
	Type    EventType
	Path    string
	OldPath string // set for EventMove
}

const (
	// renamePairWindow is how long a rename waits for its matching
	// create before degrading to a delete.
	renamePairWindow = 2 * time.Second

	debounceInterval = 500 * time.Millisecond
)

// Watcher watches directory trees recursively. fsnotify reports a
// rename as a Rename on the old path followed by a Create on the new
// one; the watcher pairs those into a single move event. Modify bursts
// (editors write in many small chunks) are debounced per path.
type Watcher struct {
	callback func(Event)
	fsw      *fsnotify.Watcher
	done     chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool

	pendingMu sync.Mutex
	pending   map[string]*pendingRename // old path -> timer

	debounceMu sync.Mutex
	debouncer  map[string]*time.Timer
}

type pendingRename struct {
	at    time.Time
	timer *time.Timer
}

func New(callback func(Event)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		callback:  callback,
		fsw:       fsw,
		done:      make(chan struct{}),
		pending:   make(map[string]*pendingRename),
		debouncer: make(map[string]*time.Timer),
	}, nil
}

// AddTree watches root and every directory below it. Directories
// created later are picked up from create events.
func (w *Watcher) AddTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.loop()
	return nil
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.started {
		close(w.done)
	}

	w.pendingMu.Lock()
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingRename)
	w.pendingMu.Unlock()

	w.debounceMu.Lock()
	for _, timer := range w.debouncer {
		timer.Stop()
	}
	w.debouncer = make(map[string]*time.Timer)
	w.debounceMu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to watch new directory")
			}
			return
		}
		if oldPath, ok := w.takePendingRename(); ok {
			w.callback(Event{Type: EventMove, Path: path, OldPath: oldPath})
			return
		}
		w.callback(Event{Type: EventCreate, Path: path})

	case event.Op&fsnotify.Write == fsnotify.Write:
		w.debounce(path)

	case event.Op&fsnotify.Rename == fsnotify.Rename:
		w.holdRename(path)

	case event.Op&fsnotify.Remove == fsnotify.Remove:
		w.callback(Event{Type: EventDelete, Path: path})
	}
}

// holdRename parks the old path waiting for the paired create. An
// unpaired rename is a file moved out of the watched tree, which is a
// delete from the tracker's point of view.
func (w *Watcher) holdRename(oldPath string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if p, ok := w.pending[oldPath]; ok {
		p.timer.Stop()
	}
	w.pending[oldPath] = &pendingRename{
		at: time.Now(),
		timer: time.AfterFunc(renamePairWindow, func() {
			w.pendingMu.Lock()
			_, still := w.pending[oldPath]
			delete(w.pending, oldPath)
			w.pendingMu.Unlock()
			if still {
				w.callback(Event{Type: EventDelete, Path: oldPath})
			}
		}),
	}
}

// takePendingRename claims the most recent unpaired rename.
func (w *Watcher) takePendingRename() (string, bool) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	var best string
	var bestAt time.Time
	for path, p := range w.pending {
		if best == "" || p.at.After(bestAt) {
			best, bestAt = path, p.at
		}
	}
	if best == "" {
		return "", false
	}
	w.pending[best].timer.Stop()
	delete(w.pending, best)
	return best, true
}

func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, ok := w.debouncer[path]; ok {
		timer.Stop()
	}
	w.debouncer[path] = time.AfterFunc(debounceInterval, func() {
		w.debounceMu.Lock()
		delete(w.debouncer, path)
		w.debounceMu.Unlock()
		w.callback(Event{Type: EventModify, Path: path})
	})
}
