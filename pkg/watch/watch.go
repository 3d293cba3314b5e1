// Package watch turns raw filesystem notifications into semantic font change
// events. A raw notification only means "something happened at this path";
// the watcher re-hashes the path and compares against the fingerprint store,
// so an event is emitted only when the content actually changed.
package watch

import (
	"context"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/fingerprint"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Event is a semantic font change. Exactly one of the concrete types below
// is delivered for each content-true change.
type Event interface {
	isEvent()
}

// Added means a font appeared that the store had no record of.
type Added struct {
	Record fingerprint.FontRecord
}

// Modified means a font's bytes changed: the re-hash disagreed with the
// store's last-known hash.
type Modified struct {
	Path    string
	OldHash string
	NewHash string
	Record  fingerprint.FontRecord
}

// Removed means a previously-recorded font no longer exists.
type Removed struct {
	Path string
	Name string
}

func (Added) isEvent()    {}
func (Modified) isEvent() {}
func (Removed) isEvent()  {}

// eventBuffer bounds the semantic event queue so a stalled consumer can't
// grow memory without limit.
const eventBuffer = 64

// Watcher monitors a set of directories for font changes. Lifecycle per
// directory: Idle until Run is called, Scanning while the initial scan
// populates the store, then Monitoring until the context is cancelled.
type Watcher struct {
	store   *fingerprint.Store
	dirs    []string
	watcher *fsnotify.Watcher
	events  chan Event
}

// New creates a Watcher over the given directories. The fingerprint store is
// owned by the watcher's Run goroutine from this point on: no other
// component may mutate it.
func New(store *fingerprint.Store, dirs []string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, dir := range dirs {
		if err := addRecursive(watcher, dir); err != nil {
			if closeErr := watcher.Close(); closeErr != nil {
				log.WithError(closeErr).Warn("Failed to close file watcher")
			}
			return nil, err
		}
	}

	return &Watcher{
		store:   store,
		dirs:    dirs,
		watcher: watcher,
		events:  make(chan Event, eventBuffer),
	}, nil
}

// addRecursive watches dir and all its subdirectories. fsnotify doesn't
// watch recursively on its own.
func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	if err := watcher.Add(dir); err != nil {
		return errors.WithContext(err, "watch "+dir)
	}

	return afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || path == dir {
			return nil
		}
		if fi.IsDir() {
			if err := watcher.Add(path); err != nil {
				return errors.WithContext(err, "watch "+path)
			}
		}
		return nil
	})
}

// Events returns the semantic event stream. The channel is closed when Run
// returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run performs the initial scan and then monitors for changes until the
// context is cancelled. All re-hashing I/O happens on this goroutine, never
// on the goroutines serving hub sessions.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer func() {
		if err := w.watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
	}()

	for _, dir := range w.dirs {
		if _, err := w.store.Scan(dir); err != nil {
			return errors.WithContext(err, "initial scan")
		}
	}
	log.WithField("fonts", w.store.Len()).Info("Initial font scan complete")

	for {
		select {
		case <-ctx.Done():
			return nil

		case raw, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleRaw(ctx, raw)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("File watcher error")
		}
	}
}

// handleRaw converts one raw notification into zero or one semantic events.
func (w *Watcher) handleRaw(ctx context.Context, raw fsnotify.Event) {
	path := raw.Name

	// New subdirectories need their own watch before their contents can be
	// observed.
	if raw.Op&fsnotify.Create != 0 {
		if fi, err := fs.Stat(path); err == nil && fi.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				log.WithError(err).WithField("path", path).Warn("Failed to watch new directory")
			}
			return
		}
	}

	// Cheap extension check first; the expensive hash only runs for fonts.
	if !fingerprint.IsFontFile(path) {
		return
	}

	fi, err := fs.Stat(path)
	if err != nil || fi.IsDir() {
		// Path is gone (or became a directory, which is equivalent for our
		// purposes): emit Removed if we were tracking it.
		if record, ok := w.store.Remove(path); ok {
			w.emit(ctx, Removed{Path: path, Name: record.Name})
		}
		return
	}

	record, err := fingerprint.ScanFile(path)
	if err != nil {
		// A transient read failure during a write-in-progress is expected.
		// The next notification for this path will re-hash again.
		log.WithError(err).WithField("path", path).Debug("Skipping unreadable font during re-hash")
		return
	}

	prior, existed := w.store.Lookup(path)
	if existed && prior.ContentsHash == record.ContentsHash {
		// A touch with no content change. Raw notifications are noisy; the
		// hash comparison is what de-duplicates them.
		return
	}

	w.store.Update(record)
	if existed {
		log.WithFields(log.Fields{
			"font": record.Name,
			"hash": shortHash(record.ContentsHash),
		}).Info("Font modified")
		w.emit(ctx, Modified{
			Path:    path,
			OldHash: prior.ContentsHash,
			NewHash: record.ContentsHash,
			Record:  record,
		})
	} else {
		log.WithFields(log.Fields{
			"font": record.Name,
			"hash": shortHash(record.ContentsHash),
		}).Info("Font added")
		w.emit(ctx, Added{Record: record})
	}
}

func (w *Watcher) emit(ctx context.Context, event Event) {
	select {
	case w.events <- event:
	case <-ctx.Done():
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
