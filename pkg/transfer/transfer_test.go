package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fontsync/fontsync/pkg/fingerprint"
	"github.com/fontsync/fontsync/pkg/protocol"
	"github.com/fontsync/fontsync/pkg/reconcile"
)

var _ reconcile.Transfer = (*Client)(nil)

// fontBytes prefixes contents with the TrueType magic so uploads pass
// header validation.
func fontBytes(contents string) []byte {
	return append([]byte{0x00, 0x01, 0x00, 0x00}, []byte(contents)...)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []protocol.Message
}

func (p *recordingPublisher) Publish(msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *recordingPublisher) all() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Message{}, p.messages...)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *recordingPublisher) {
	publisher := &recordingPublisher{}
	server := NewServer(t.TempDir(), fingerprint.NewStore(), publisher)
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)
	return server, httpServer, publisher
}

func uploadFont(t *testing.T, url, name string, contents []byte) *http.Response {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("font", name)
	require.NoError(t, err)
	_, err = part.Write(contents)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(url+"/fonts", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestListEmptyStore(t *testing.T) {
	_, httpServer, _ := newTestServer(t)

	resp, err := http.Get(httpServer.URL + "/fonts")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	_, httpServer, publisher := newTestServer(t)

	contents := fontBytes("arial glyphs")
	resp := uploadFont(t, httpServer.URL, "Arial.ttf", contents)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var stored uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stored))
	assert.Equal(t, "Arial.ttf", stored.Filename)
	assert.Equal(t, fingerprint.HashBytes(contents), stored.SHA256)
	assert.Equal(t, uint64(len(contents)), stored.Size)

	download, err := http.Get(httpServer.URL + "/fonts/Arial.ttf")
	require.NoError(t, err)
	defer download.Body.Close()
	require.Equal(t, http.StatusOK, download.StatusCode)
	assert.Equal(t, "font/ttf", download.Header.Get("Content-Type"))
	assert.Contains(t, download.Header.Get("Content-Disposition"), "Arial.ttf")

	got, err := io.ReadAll(download.Body)
	require.NoError(t, err)
	assert.Equal(t, contents, got)

	hashResp, err := http.Get(httpServer.URL + "/fonts/Arial.ttf/sha256")
	require.NoError(t, err)
	defer hashResp.Body.Close()
	hash, err := io.ReadAll(hashResp.Body)
	require.NoError(t, err)
	assert.Equal(t, fingerprint.HashBytes(contents), string(hash))

	messages := publisher.all()
	require.Len(t, messages, 1)
	assert.Equal(t, protocol.FontAdded{
		Filename: "Arial.ttf",
		SHA256:   fingerprint.HashBytes(contents),
		Size:     uint64(len(contents)),
	}, messages[0])
}

func TestReuploadAnnouncesModification(t *testing.T) {
	_, httpServer, publisher := newTestServer(t)

	first := uploadFont(t, httpServer.URL, "Arial.ttf", fontBytes("v1"))
	first.Body.Close()
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second := uploadFont(t, httpServer.URL, "Arial.ttf", fontBytes("v2"))
	second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)

	messages := publisher.all()
	require.Len(t, messages, 2)
	assert.IsType(t, protocol.FontAdded{}, messages[0])
	assert.IsType(t, protocol.FontModified{}, messages[1])
}

func TestUploadRejectsNonFonts(t *testing.T) {
	_, httpServer, publisher := newTestServer(t)

	// Wrong extension.
	resp := uploadFont(t, httpServer.URL, "notes.txt", fontBytes("text"))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Right extension, wrong magic.
	resp = uploadFont(t, httpServer.URL, "fake.ttf", []byte("not a font at all"))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, publisher.all())
}

func TestRejectedUploadLeavesNoFiles(t *testing.T) {
	server, httpServer, _ := newTestServer(t)

	resp := uploadFont(t, httpServer.URL, "fake.ttf", []byte("junk"))
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	entries, err := os.ReadDir(server.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadUnknownFont(t *testing.T) {
	_, httpServer, _ := newTestServer(t)

	resp, err := http.Get(httpServer.URL + "/fonts/Ghost.ttf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(httpServer.URL + "/fonts/Ghost.ttf/sha256")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadStripsPathComponents(t *testing.T) {
	server, httpServer, _ := newTestServer(t)

	resp := uploadFont(t, httpServer.URL, "../../escape.ttf", fontBytes("glyphs"))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The font landed in the store dir under its base name.
	_, err := os.Stat(filepath.Join(server.dir, "escape.ttf"))
	assert.NoError(t, err)
}

func TestCleanName(t *testing.T) {
	for _, bad := range []string{"", ".", "..", ".hidden.ttf", "a/b.ttf", `a\b.ttf`} {
		_, ok := cleanName(bad)
		assert.False(t, ok, "name %q", bad)
	}
	name, ok := cleanName("Arial.ttf")
	assert.True(t, ok)
	assert.Equal(t, "Arial.ttf", name)
}

func TestClientRoundTrip(t *testing.T) {
	_, httpServer, _ := newTestServer(t)
	client := NewClient(httpServer.URL, t.TempDir())
	ctx := context.Background()

	contents := fontBytes("comic glyphs")
	localPath := filepath.Join(t.TempDir(), "Comic.ttf")
	require.NoError(t, os.WriteFile(localPath, contents, 0644))

	// Push echoes the hash of the stored bytes.
	hash, err := client.Push(ctx, "Comic.ttf", localPath)
	require.NoError(t, err)
	assert.Equal(t, fingerprint.HashBytes(contents), hash)

	// The inventory now lists the font under the pushed hash.
	inventory, err := client.ListRemote(ctx)
	require.NoError(t, err)
	assert.Equal(t, fingerprint.Inventory{"Comic.ttf": hash}, inventory)

	remoteHash, err := client.Hash(ctx, "Comic.ttf")
	require.NoError(t, err)
	assert.Equal(t, hash, remoteHash)

	// Fetching it back yields byte-identical contents.
	fetched, err := client.Fetch(ctx, "Comic.ttf")
	require.NoError(t, err)
	got, err := os.ReadFile(fetched)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestClientFetchUnknownFont(t *testing.T) {
	_, httpServer, _ := newTestServer(t)
	client := NewClient(httpServer.URL, t.TempDir())

	_, err := client.Fetch(context.Background(), "Ghost.ttf")
	assert.Error(t, err)

	_, err = client.Hash(context.Background(), "Ghost.ttf")
	assert.Error(t, err)
}

// A compromised store must not be able to steer a download outside the
// download directory through the names it advertises.
func TestClientFetchRejectsTraversalName(t *testing.T) {
	downloadDir := t.TempDir()
	// No server: the name is rejected before any request is made.
	client := NewClient("http://localhost:0", downloadDir)

	for _, name := range []string{"../../escape.ttf", "a/b.ttf", ".hidden.ttf", ""} {
		_, err := client.Fetch(context.Background(), name)
		assert.Error(t, err, name)
	}

	entries, err := os.ReadDir(filepath.Dir(downloadDir))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotEqual(t, "escape.ttf", entry.Name())
	}
}

func TestClientPushRejectedUpload(t *testing.T) {
	_, httpServer, _ := newTestServer(t)
	client := NewClient(httpServer.URL, t.TempDir())

	localPath := filepath.Join(t.TempDir(), "fake.ttf")
	require.NoError(t, os.WriteFile(localPath, []byte("junk"), 0644))

	_, err := client.Push(context.Background(), "fake.ttf", localPath)
	assert.Error(t, err)
}
