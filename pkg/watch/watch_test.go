package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fontsync/fontsync/pkg/fingerprint"
)

// newTestWatcher builds a Watcher whose raw notifications are injected
// directly into handleRaw instead of coming from the OS.
func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()

	fsWatcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsWatcher.Close() })

	return &Watcher{
		store:   fingerprint.NewStore(),
		watcher: fsWatcher,
		events:  make(chan Event, eventBuffer),
	}
}

func collectEvents(w *Watcher) (events []Event) {
	for {
		select {
		case event := <-w.events:
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestAddedThenUnchangedThenModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Arial.ttf")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	w := newTestWatcher(t)
	ctx := context.Background()

	// First notification for an unknown path emits Added.
	w.handleRaw(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	events := collectEvents(w)
	require.Len(t, events, 1)
	added, ok := events[0].(Added)
	require.True(t, ok)
	assert.Equal(t, "Arial.ttf", added.Record.Name)
	assert.Equal(t, fingerprint.HashBytes([]byte("v1")), added.Record.ContentsHash)

	// A touch with identical contents emits nothing: raw notifications are
	// de-duplicated by hash comparison.
	w.handleRaw(ctx, fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Empty(t, collectEvents(w))

	// Changed bytes emit Modified with both hashes.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))
	w.handleRaw(ctx, fsnotify.Event{Name: path, Op: fsnotify.Write})
	events = collectEvents(w)
	require.Len(t, events, 1)
	modified, ok := events[0].(Modified)
	require.True(t, ok)
	assert.Equal(t, added.Record.ContentsHash, modified.OldHash)
	assert.Equal(t, fingerprint.HashBytes([]byte("v2")), modified.NewHash)
}

func TestRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Gone.ttf")
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0644))

	w := newTestWatcher(t)
	ctx := context.Background()

	w.handleRaw(ctx, fsnotify.Event{Name: path, Op: fsnotify.Create})
	require.Len(t, collectEvents(w), 1)

	require.NoError(t, os.Remove(path))
	w.handleRaw(ctx, fsnotify.Event{Name: path, Op: fsnotify.Remove})

	events := collectEvents(w)
	require.Len(t, events, 1)
	removed, ok := events[0].(Removed)
	require.True(t, ok)
	assert.Equal(t, "Gone.ttf", removed.Name)
	assert.Equal(t, 0, w.store.Len())

	// Removing an untracked path emits nothing.
	w.handleRaw(ctx, fsnotify.Event{Name: path, Op: fsnotify.Remove})
	assert.Empty(t, collectEvents(w))
}

func TestNonFontFiltered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0644))

	w := newTestWatcher(t)
	w.handleRaw(context.Background(), fsnotify.Event{Name: path, Op: fsnotify.Create})

	assert.Empty(t, collectEvents(w))
	assert.Equal(t, 0, w.store.Len())
}

func TestNewDirectoryGetsWatched(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "more-fonts")
	require.NoError(t, os.Mkdir(sub, 0755))

	w := newTestWatcher(t)
	w.handleRaw(context.Background(), fsnotify.Event{Name: sub, Op: fsnotify.Create})

	// Directory creation is plumbing, never a semantic event.
	assert.Empty(t, collectEvents(w))
	assert.Contains(t, w.watcher.WatchList(), sub)
}

func TestInitialScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.ttf"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B.otf"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("c"), 0644))

	store := fingerprint.NewStore()
	w, err := New(store, []string{dir})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The initial scan happens before the monitoring loop; cancelling makes
	// Run return once it's in the loop.
	assert.Eventually(t, func() bool { return store.Len() == 2 },
		eventuallyTimeout, eventuallyTick)
	cancel()
	require.NoError(t, <-done)

	inventory := store.Inventory()
	assert.Contains(t, inventory, "A.ttf")
	assert.Contains(t, inventory, "B.otf")
}

const (
	eventuallyTimeout = 5 * time.Second
	eventuallyTick    = 10 * time.Millisecond
)
