package fingerprint

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(contents), 0644))
}

func TestHashFileDeterministic(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/fonts/a.ttf", "glyphs")

	first, err := HashFile("/fonts/a.ttf")
	require.NoError(t, err)
	second, err := HashFile("/fonts/a.ttf")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Equal(t, first, HashBytes([]byte("glyphs")))
}

func TestHashFileSensitive(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/fonts/a.ttf", "glyphs")
	writeFile(t, "/fonts/b.ttf", "glyphz")

	hashA, err := HashFile("/fonts/a.ttf")
	require.NoError(t, err)
	hashB, err := HashFile("/fonts/b.ttf")
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestScan(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/fonts/Arial.ttf", "arial bytes")
	writeFile(t, "/fonts/Comic.otf", "comic bytes")
	writeFile(t, "/fonts/notes.txt", "not a font")
	writeFile(t, "/fonts/nested/Deep.woff", "deep bytes")

	store := NewStore()
	inventory, err := store.Scan("/fonts")
	require.NoError(t, err)

	assert.Len(t, inventory, 3)
	assert.Contains(t, inventory, "Arial.ttf")
	assert.Contains(t, inventory, "Comic.otf")
	assert.Contains(t, inventory, "Deep.woff")
	assert.NotContains(t, inventory, "notes.txt")

	// Every cached hash must equal an independent re-hash of the path.
	for path, record := range store.Snapshot() {
		recomputed, err := HashFile(path)
		require.NoError(t, err)
		assert.Equal(t, recomputed, record.ContentsHash)
		assert.Equal(t, inventory[record.Name], record.ContentsHash)
	}
}

func TestScanReplacesPriorState(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/fonts/Old.ttf", "old bytes")

	store := NewStore()
	_, err := store.Scan("/fonts")
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	require.NoError(t, fs.Remove("/fonts/Old.ttf"))
	writeFile(t, "/fonts/New.ttf", "new bytes")

	inventory, err := store.Scan("/fonts")
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	assert.Contains(t, inventory, "New.ttf")
	assert.NotContains(t, inventory, "Old.ttf")

	_, ok := store.Lookup("/fonts/Old.ttf")
	assert.False(t, ok)
}

func TestScanTrailingSeparator(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/fonts/Old.ttf", "old bytes")

	store := NewStore()
	_, err := store.Scan("/fonts/")
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	require.NoError(t, fs.Remove("/fonts/Old.ttf"))
	writeFile(t, "/fonts/New.ttf", "new bytes")

	inventory, err := store.Scan("/fonts/")
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	assert.Contains(t, inventory, "New.ttf")

	_, ok := store.Lookup("/fonts/Old.ttf")
	assert.False(t, ok)
}

func TestScanMissingDirectory(t *testing.T) {
	fs = afero.NewMemMapFs()

	store := NewStore()
	_, err := store.Scan("/does-not-exist")
	assert.Error(t, err)
}

func TestStoreUpdateRemove(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/fonts/Arial.ttf", "arial bytes")

	store := NewStore()
	record, err := ScanFile("/fonts/Arial.ttf")
	require.NoError(t, err)

	store.Update(record)
	got, ok := store.Lookup("/fonts/Arial.ttf")
	assert.True(t, ok)
	assert.Equal(t, record, got)

	removed, ok := store.Remove("/fonts/Arial.ttf")
	assert.True(t, ok)
	assert.Equal(t, record, removed)
	assert.Equal(t, 0, store.Len())
}

func TestIsFontFile(t *testing.T) {
	assert.True(t, IsFontFile("test.ttf"))
	assert.True(t, IsFontFile("test.OTF"))
	assert.True(t, IsFontFile("/some/dir/test.woff2"))
	assert.False(t, IsFontFile("test.txt"))
	assert.False(t, IsFontFile("test"))
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "font/ttf", MimeType("test.ttf"))
	assert.Equal(t, "font/otf", MimeType("test.otf"))
	assert.Equal(t, "font/woff2", MimeType("test.woff2"))
	assert.Equal(t, "application/vnd.ms-fontobject", MimeType("test.eot"))
	assert.Equal(t, "application/octet-stream", MimeType("test.txt"))
}

func TestValidFontHeader(t *testing.T) {
	fs = afero.NewMemMapFs()
	writeFile(t, "/fonts/real.ttf", string([]byte{0x00, 0x01, 0x00, 0x00})+"rest")
	writeFile(t, "/fonts/fake.ttf", "not a font at all")
	writeFile(t, "/fonts/metrics.afm", "StartFontMetrics 4.1")

	assert.True(t, ValidFontHeader("/fonts/real.ttf"))
	assert.False(t, ValidFontHeader("/fonts/fake.ttf"))
	// No reliable magic for metrics formats; accepted on extension.
	assert.True(t, ValidFontHeader("/fonts/metrics.afm"))
	assert.False(t, ValidFontHeader("/fonts/missing.ttf"))
}
