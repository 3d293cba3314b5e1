package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/fingerprint"
	"github.com/fontsync/fontsync/pkg/protocol"
)

const requestTimeout = 2 * time.Minute

// Client talks to a store server. It satisfies the reconciler's transfer
// boundary.
type Client struct {
	// BaseURL is the store's root, e.g. "http://host:8843".
	BaseURL string

	// DownloadDir is where fetched fonts are written.
	DownloadDir string

	// ShowProgress draws a progress bar on stderr during transfers.
	ShowProgress bool

	httpClient *http.Client
}

// NewClient returns a client for the store at baseURL that downloads into
// downloadDir.
func NewClient(baseURL, downloadDir string) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		DownloadDir: downloadDir,
		httpClient:  &http.Client{Timeout: requestTimeout},
	}
}

// ListRemote fetches the store's inventory.
func (c *Client) ListRemote(ctx context.Context) (fingerprint.Inventory, error) {
	resp, err := c.get(ctx, "/fonts")
	if err != nil {
		return nil, errors.WithContext(err, "list fonts")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(resp)
	}

	var fonts []protocol.FontInfo
	if err := json.NewDecoder(resp.Body).Decode(&fonts); err != nil {
		return nil, errors.WithContext(err, "decode font list")
	}

	inventory := fingerprint.Inventory{}
	for _, font := range fonts {
		inventory[font.Filename] = font.SHA256
	}
	return inventory, nil
}

// Fetch downloads the named font into DownloadDir and returns its path.
func (c *Client) Fetch(ctx context.Context, name string) (string, error) {
	// The name comes from the remote inventory; a hostile store must not be
	// able to steer the write outside DownloadDir.
	name, ok := cleanName(name)
	if !ok {
		return "", errors.New("invalid font name from store")
	}

	resp, err := c.get(ctx, "/fonts/"+url.PathEscape(name))
	if err != nil {
		return "", errors.WithContext(err, "fetch font")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", errors.FileNotFound{Path: name}
	}
	if resp.StatusCode != http.StatusOK {
		return "", unexpectedStatus(resp)
	}

	if err := fs.MkdirAll(c.DownloadDir, 0755); err != nil {
		return "", errors.WithContext(err, "create download dir")
	}

	path := filepath.Join(c.DownloadDir, name)
	f, err := fs.Create(path)
	if err != nil {
		return "", errors.WithContext(err, "create download file")
	}

	var dst io.Writer = f
	if c.ShowProgress {
		bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+name)
		dst = io.MultiWriter(f, bar)
	}

	written, err := io.Copy(dst, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fs.Remove(path)
		return "", errors.WithContext(err, "write download")
	}

	log.WithField("font", name).
		WithField("size", humanize.Bytes(uint64(written))).
		Debug("Downloaded font")
	return path, nil
}

// Push uploads the file at path under the given name and returns the hash
// the store computed for the stored bytes.
func (c *Client) Push(ctx context.Context, name, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open font")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", errors.WithContext(err, "stat font")
	}

	// Stream the multipart body through a pipe rather than buffering the
	// whole font in memory.
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("font", name)
		if err == nil {
			var src io.Reader = f
			if c.ShowProgress {
				bar := progressbar.DefaultBytes(fi.Size(), "uploading "+name)
				src = io.TeeReader(f, bar)
			}
			_, err = io.Copy(part, src)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.BaseURL+"/fonts", pr)
	if err != nil {
		return "", errors.WithContext(err, "build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.WithContext(err, "push font")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", unexpectedStatus(resp)
	}

	var stored uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return "", errors.WithContext(err, "decode upload response")
	}
	return stored.SHA256, nil
}

// Hash fetches the store's recorded content hash for the named font.
func (c *Client) Hash(ctx context.Context, name string) (string, error) {
	resp, err := c.get(ctx, "/fonts/"+url.PathEscape(name)+"/sha256")
	if err != nil {
		return "", errors.WithContext(err, "fetch hash")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", errors.FileNotFound{Path: name}
	}
	if resp.StatusCode != http.StatusOK {
		return "", unexpectedStatus(resp)
	}

	hash, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WithContext(err, "read hash")
	}
	return string(hash), nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return errors.New(fmt.Sprintf("store returned %s: %s",
		resp.Status, strings.TrimSpace(string(body))))
}
