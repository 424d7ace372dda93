// Package watcher turns filesystem notifications for a fragment directory into a
// stream of Change values.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/logfields"
)

// Kind classifies a change.
type Kind string

const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Removed  Kind = "removed"
	Renamed  Kind = "renamed"
	Attrib   Kind = "attrib"
	// Overflow means the kernel dropped events; anything may have changed.
	Overflow Kind = "overflow"
)

// Change is one relevant filesystem event.
type Change struct {
	Path string
	Kind Kind
	At   time.Time
}

// Filter decides whether a file name in the watched directory is relevant.
type Filter func(name string) bool

const bufferSize = 64

// Watcher watches a single directory.
type Watcher struct {
	dir     string
	filter  Filter
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
	changes chan Change
	once    sync.Once
	now     func() time.Time
}

// New creates a Watcher for dir. A nil filter accepts every name.
func New(dir string, filter Filter, logger *slog.Logger) *Watcher {
	if filter == nil {
		filter = func(string) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:     filepath.Clean(dir),
		filter:  filter,
		logger:  logger,
		changes: make(chan Change, bufferSize),
		now:     time.Now,
	}
}

// Start subscribes to notifications. It fails with WatchInitFailed when the directory
// cannot be watched.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.WatchInitFailed("failed to create file watcher").WithCause(err).
			WithContext("dir", w.dir).Build()
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return ferrors.WatchInitFailed("failed to watch directory").WithCause(err).
			WithContext("dir", w.dir).Build()
	}
	w.fsw = fsw
	w.logger.Info("Watching directory", logfields.Dir(w.dir))
	return nil
}

// Changes returns the change stream. It is closed when Run returns.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Run forwards notifications until ctx is done or the underlying watcher closes.
// Removing or renaming the watched directory ends the watch with
// DirectoryUnavailable.
func (w *Watcher) Run(ctx context.Context) error {
	if w.fsw == nil {
		return ferrors.WatchInitFailed("watcher not started").WithContext("dir", w.dir).Build()
	}
	defer close(w.changes)
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			c, ok := w.translate(ev)
			if !ok {
				continue
			}
			if c.Path == w.dir && (c.Kind == Removed || c.Kind == Renamed) {
				w.logger.Error("Watched directory disappeared", logfields.Dir(w.dir), logfields.Op(string(c.Kind)))
				return ferrors.DirectoryUnavailable("watched directory was " + string(c.Kind)).
					WithContext("dir", w.dir).Build()
			}
			w.emit(c)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("File watcher overflowed, forcing rebuild", logfields.Dir(w.dir))
				w.emit(Change{Path: w.dir, Kind: Overflow, At: w.now()})
				continue
			}
			w.logger.Error("File watcher error", logfields.Dir(w.dir), logfields.Error(err))
		}
	}
}

// Close releases the notification handle. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	return err
}

func (w *Watcher) translate(ev fsnotify.Event) (Change, bool) {
	path := filepath.Clean(ev.Name)
	if path != w.dir && !w.filter(filepath.Base(path)) {
		return Change{}, false
	}
	var kind Kind
	switch {
	case ev.Has(fsnotify.Create):
		kind = Created
	case ev.Has(fsnotify.Write):
		kind = Modified
	case ev.Has(fsnotify.Remove):
		kind = Removed
	case ev.Has(fsnotify.Rename):
		kind = Renamed
	case ev.Has(fsnotify.Chmod):
		kind = Attrib
	default:
		return Change{}, false
	}
	return Change{Path: path, Kind: kind, At: w.now()}, true
}

// emit never blocks: a full buffer already holds changes that will trigger a rebuild.
func (w *Watcher) emit(c Change) {
	select {
	case w.changes <- c:
		w.logger.Debug("Fragment change", logfields.Path(c.Path), logfields.Op(string(c.Kind)))
	default:
		w.logger.Debug("Change buffer full, dropping", logfields.Path(c.Path))
	}
}
