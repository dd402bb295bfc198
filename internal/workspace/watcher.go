// SPDX-License-Identifier: MIT

package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openreelio/reelcore/internal/log"
	"github.com/openreelio/reelcore/internal/metrics"
	"github.com/openreelio/reelcore/internal/project"
)

// DebounceWindow is how long the watcher waits for a path to go quiet
// before classifying and emitting one event for it.
const DebounceWindow = 500 * time.Millisecond

// EventKind classifies a debounced filesystem notification.
type EventKind string

const (
	FileAdded    EventKind = "added"
	FileModified EventKind = "modified"
	FileRemoved  EventKind = "removed"
)

// Event is one debounced, filtered workspace notification.
type Event struct {
	Kind         EventKind
	RelativePath string
	AbsolutePath string
	AssetKind    project.AssetKind
}

// pendingChange accumulates raw notifications for one path during the
// debounce window.
type pendingChange struct {
	timer *time.Timer
}

// Watcher emits debounced media-file events for a project root. Events
// are delivered to a single consumer channel; classification happens at
// flush time from post-event existence.
type Watcher struct {
	root    string
	ignore  *IgnoreRules
	scanner *Scanner

	fsw    *fsnotify.Watcher
	events chan Event

	mu      sync.Mutex
	pending map[string]*pendingChange
	known   map[string]bool
	closed  bool

	done   chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewWatcher builds (but does not start) a watcher. knownPaths seeds the
// added-vs-modified distinction from the current index contents.
func NewWatcher(root string, ignore *IgnoreRules, knownPaths []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(knownPaths))
	for _, p := range knownPaths {
		known[p] = true
	}

	return &Watcher{
		root:    root,
		ignore:  ignore,
		scanner: NewScanner(root, ignore),
		fsw:     fsw,
		events:  make(chan Event, 256),
		pending: make(map[string]*pendingChange),
		known:   known,
		done:    make(chan struct{}),
		logger:  log.WithComponent("watcher"),
	}, nil
}

// Start registers watches recursively and begins delivering events.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.root); err != nil {
		_ = w.fsw.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Events is the single consumer channel. It closes after Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop tears the watcher down and closes the event channel.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingChange)
	w.mu.Unlock()

	close(w.done)
	_ = w.fsw.Close()
	w.wg.Wait()
	close(w.events)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr == nil && rel != "." && w.ignore.IsIgnored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if werr := w.fsw.Add(path); werr != nil {
			w.logger.Warn().Err(werr).Str("path", path).Msg("failed to watch directory")
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	// New directories need their own watch before anything inside them
	// is visible.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			rel, rerr := filepath.Rel(w.root, ev.Name)
			if rerr == nil && !w.ignore.IsIgnored(filepath.ToSlash(rel)) {
				_ = w.addRecursive(ev.Name)
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	slashRel := filepath.ToSlash(rel)
	if w.ignore.IsIgnored(slashRel) {
		return
	}

	// Only recognised media extensions pass; everything else never makes
	// it to the debounce table.
	ext := strings.TrimPrefix(filepath.Ext(ev.Name), ".")
	if _, ok := MediaKindForExtension(ext); !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if p, ok := w.pending[slashRel]; ok {
		p.timer.Reset(DebounceWindow)
		return
	}

	p := &pendingChange{}
	abs := ev.Name
	p.timer = time.AfterFunc(DebounceWindow, func() {
		w.flush(slashRel, abs)
	})
	w.pending[slashRel] = p
}

// flush classifies one quiesced path and emits its event.
func (w *Watcher) flush(slashRel, abs string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, slashRel)
	wasKnown := w.known[slashRel]
	w.mu.Unlock()

	_, statErr := os.Stat(abs)
	exists := statErr == nil

	var ev Event
	switch {
	case !exists:
		if !wasKnown {
			return // never surfaced, nothing to retract
		}
		ext := strings.TrimPrefix(filepath.Ext(abs), ".")
		kind, _ := MediaKindForExtension(ext)
		ev = Event{Kind: FileRemoved, RelativePath: slashRel, AbsolutePath: abs, AssetKind: kind}
	default:
		f := w.scanner.ScanPath(abs)
		if f == nil {
			return
		}
		kind := FileModified
		if !wasKnown {
			kind = FileAdded
		}
		ev = Event{Kind: EventKind(kind), RelativePath: slashRel, AbsolutePath: abs, AssetKind: f.Kind}
	}

	// The send happens under the lock so Stop cannot close the channel
	// out from under an in-flight flush.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if ev.Kind == FileRemoved {
		delete(w.known, slashRel)
	} else {
		w.known[slashRel] = true
	}

	metrics.IncWatcherEvent(string(ev.Kind))
	select {
	case w.events <- ev:
	default:
		w.logger.Warn().Str("path", slashRel).Msg("event channel full, dropping workspace event")
	}
}
