// Package watcher follows local JSON documents and reports each settled
// change with its decoded content.
package watcher

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"lessonsync/internal/snapshot"
)

// Event is a settled change to a watched document.
type Event struct {
	Path      string
	Content   any
	Hash      [32]byte
	Size      int64
	Timestamp time.Time
}

// Watcher monitors files for changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     []string
	settle    time.Duration
	tick      time.Duration

	// path -> time of the last write seen
	dirty   map[string]time.Time
	emitted map[string][32]byte
	stateMu sync.Mutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for the given files. A change is reported once a
// file has not been written for settle.
func New(paths []string, settle time.Duration) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("watcher: no paths")
	}
	if settle <= 0 {
		settle = 200 * time.Millisecond
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			fsWatcher.Close()
			return nil, err
		}
		abs[i] = a
	}

	tick := settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		paths:     abs,
		settle:    settle,
		tick:      tick,
		dirty:     make(map[string]time.Time),
		emitted:   make(map[string][32]byte),
		events:    make(chan Event, 16),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of settled changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of read and decode errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start records the current content of every file and begins watching.
// Editors that replace files by rename are handled by watching the parent
// directory.
func (w *Watcher) Start() error {
	dirs := make(map[string]bool)
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("watcher: %s is a directory", path)
		}
		if _, hash, _, err := readDocument(path); err == nil {
			w.emitted[path] = hash
		}
		dir := filepath.Dir(path)
		if !dirs[dir] {
			if err := w.fsWatcher.Add(dir); err != nil {
				return err
			}
			dirs[dir] = true
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()
	return nil
}

// Stop shuts down the watcher and closes its channels.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

func (w *Watcher) watched(name string) bool {
	for _, p := range w.paths {
		if p == name {
			return true
		}
	}
	return false
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Clean(event.Name)
			if !w.watched(name) {
				continue
			}
			w.stateMu.Lock()
			w.dirty[name] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.checkSettled(now)
		}
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

// checkSettled reads files that stopped changing. The lock is released
// while reading so eventLoop is never blocked on I/O.
func (w *Watcher) checkSettled(now time.Time) {
	threshold := now.Add(-w.settle)

	type candidate struct {
		path    string
		lastMod time.Time
	}
	var settled []candidate
	w.stateMu.Lock()
	for path, lastMod := range w.dirty {
		if lastMod.Before(threshold) {
			settled = append(settled, candidate{path, lastMod})
		}
	}
	w.stateMu.Unlock()

	for _, c := range settled {
		content, hash, size, err := readDocument(c.path)

		w.stateMu.Lock()
		if w.dirty[c.path] != c.lastMod {
			// Written again while reading.
			w.stateMu.Unlock()
			continue
		}
		delete(w.dirty, c.path)
		if err != nil {
			w.stateMu.Unlock()
			w.report(err)
			continue
		}
		if prev, ok := w.emitted[c.path]; ok && prev == hash {
			w.stateMu.Unlock()
			continue
		}
		w.emitted[c.path] = hash
		w.stateMu.Unlock()

		select {
		case w.events <- Event{Path: c.path, Content: content, Hash: hash, Size: size, Timestamp: now}:
		case <-w.done:
			return
		}
	}
}

// readDocument reads and decodes a JSON file.
func readDocument(path string) (any, [32]byte, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, [32]byte{}, 0, err
	}
	hash := sha256.Sum256(data)
	content, err := snapshot.Decode(data)
	if err != nil {
		return nil, hash, int64(len(data)), fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return content, hash, int64(len(data)), nil
}

// HashFile computes the SHA-256 hash of a file.
func HashFile(path string) ([32]byte, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	return sha256.Sum256(data), int64(len(data)), nil
}

// WatchedPaths returns the absolute paths being watched.
func (w *Watcher) WatchedPaths() []string {
	return w.paths
}
