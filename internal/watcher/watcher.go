// Package watcher observes the configured source roots and turns raw
// filesystem notifications into debounced, coalesced change batches.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lumen-dev/lumen/internal/errors"
)

// Kind represents the kind of a file change.
type Kind int

const (
	Created Kind = iota
	Modified
	Removed
	Renamed
)

// String returns the string representation of the change kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "Created"
	case Modified:
		return "Modified"
	case Removed:
		return "Removed"
	case Renamed:
		return "Renamed"
	default:
		return "Unknown"
	}
}

// Event is a single observed file change.
type Event struct {
	Path string
	Kind Kind
	At   time.Time
}

// Batch is one debounce window's worth of changes, one entry per path with
// the latest kind winning.
type Batch map[string]Event

// Paths returns the batch's paths in unspecified order.
func (b Batch) Paths() []string {
	paths := make([]string, 0, len(b))
	for p := range b {
		paths = append(paths, p)
	}
	return paths
}

// Merge folds other into b, latest kind per path winning.
func (b Batch) Merge(other Batch) {
	for p, ev := range other {
		b[p] = ev
	}
}

// Config configures the file watcher.
type Config struct {
	// Roots are the directories to watch recursively. Required.
	Roots []string

	// Ignore patterns to skip (globs and path segments).
	Ignore []string

	// Debounce is the quiescence window before a batch flushes.
	Debounce time.Duration
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	".lumen",
	"node_modules",
	"dist",
	"tmp",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher monitors the configured roots and emits change batches.
type Watcher struct {
	config Config
	logger *slog.Logger

	fs  *fsnotify.Watcher
	out chan Batch

	mu      sync.Mutex
	pending Batch
	timer   *time.Timer
	running bool
	stopped bool
	stopCh  chan struct{}
}

// New creates a new file watcher.
func New(config Config, logger *slog.Logger) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = 150 * time.Millisecond
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		config:  config,
		logger:  logger,
		out:     make(chan Batch, 16),
		pending: make(Batch),
		stopCh:  make(chan struct{}),
	}
}

// Start establishes OS-level watches on every root and begins emitting
// batches. Failure to watch any root is fatal and no batches are emitted.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return errors.New("E101").Wrap(err)
	}
	w.fs = fs
	w.running = true
	w.mu.Unlock()

	for _, root := range w.config.Roots {
		if err := w.addRecursive(root); err != nil {
			fs.Close()
			return errors.New("E101").WithDetail(root).Wrap(err)
		}
	}

	go w.loop(ctx)
	return nil
}

// Batches returns the channel batches are flushed on. The channel is closed
// when the watcher stops.
func (w *Watcher) Batches() <-chan Batch {
	return w.out
}

// Stop releases all watch handles and stops emitting. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
}

// addRecursive adds a watch for root and every non-ignored directory below.
func (w *Watcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.fs.Add(root)
	}

	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if w.shouldIgnore(p) && p != root {
			return filepath.SkipDir
		}
		return w.fs.Add(p)
	})
}

// loop consumes raw notifications, coalesces them into the pending batch,
// and flushes the batch when the quiescence window closes.
func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.running = false
		w.mu.Unlock()
		w.fs.Close()
		close(w.out)
	}()

	flushCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleRaw(ev, flushCh)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			// Transient notification errors never crash the watcher.
			w.logger.Warn("watch notification error",
				"error", errors.New("E102").Wrap(err))

		case <-flushCh:
			w.flush(ctx)
		}
	}
}

// handleRaw maps a raw fsnotify event into the pending batch and arms the
// debounce timer.
func (w *Watcher) handleRaw(ev fsnotify.Event, flushCh chan struct{}) {
	if w.shouldIgnore(ev.Name) {
		return
	}

	kind, ok := mapOp(ev.Op)
	if !ok {
		return
	}

	// A directory created inside a watched tree must itself be watched.
	if kind == Created {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("cannot watch new directory",
					"path", ev.Name,
					"error", errors.New("E102").Wrap(err))
			}
			// Files already inside the directory (moved in, or written
			// before the watch landed) produce no events of their own.
			w.seedExisting(ev.Name, flushCh)
			return
		}
	}

	w.record(ev.Name, kind, flushCh)
}

// record adds one change to the pending batch and re-opens the quiescence
// window.
func (w *Watcher) record(path string, kind Kind, flushCh chan struct{}) {
	w.mu.Lock()
	w.pending[path] = Event{Path: path, Kind: kind, At: time.Now()}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.config.Debounce, func() {
			select {
			case flushCh <- struct{}{}:
			default:
			}
		})
	} else {
		// Every event re-opens the quiescence window.
		w.timer.Reset(w.config.Debounce)
	}
	w.mu.Unlock()
}

// seedExisting records every non-ignored file already under a newly watched
// directory as Created.
func (w *Watcher) seedExisting(dir string, flushCh chan struct{}) {
	filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if w.shouldIgnore(p) && p != dir {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			w.record(p, Created, flushCh)
		}
		return nil
	})
}

// flush emits the pending batch. Batches flush strictly in the order their
// windows close; only one window is ever open per watcher.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(Batch)
	w.timer = nil
	w.mu.Unlock()

	select {
	case w.out <- batch:
	case <-ctx.Done():
	case <-w.stopCh:
	}
}

// mapOp translates fsnotify op bits to a change kind. Chmod-only events are
// noise and are dropped.
func mapOp(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	case op.Has(fsnotify.Remove):
		return Removed, true
	case op.Has(fsnotify.Rename):
		return Renamed, true
	default:
		return 0, false
	}
}
