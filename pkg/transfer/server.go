// Package transfer moves font bytes over HTTP: a store server that owns the
// canonical font directory, and a client implementing the reconciler's
// transfer boundary against it.
package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fontsync/fontsync/pkg/fingerprint"
	"github.com/fontsync/fontsync/pkg/protocol"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Publisher fans a message out to connected sessions. Satisfied by
// *hub.Hub; nil disables notifications.
type Publisher interface {
	Publish(msg protocol.Message)
}

// Server serves the canonical font directory over HTTP.
type Server struct {
	dir       string
	store     *fingerprint.Store
	publisher Publisher
}

// NewServer returns a store server for the fonts under dir, fingerprinted
// through store. Uploads are announced through publisher if it is non-nil.
func NewServer(dir string, store *fingerprint.Store, publisher Publisher) *Server {
	return &Server{dir: dir, store: store, publisher: publisher}
}

// Handler returns the store's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fonts", s.handleList)
	mux.HandleFunc("POST /fonts", s.handleUpload)
	mux.HandleFunc("GET /fonts/{name}", s.handleDownload)
	mux.HandleFunc("GET /fonts/{name}/sha256", s.handleHash)
	return mux
}

// FontList returns the store's inventory in the wire format, sorted by
// filename. Also used as the hub's font lister.
func (s *Server) FontList() []protocol.FontInfo {
	var fonts []protocol.FontInfo
	for _, record := range s.store.Snapshot() {
		fonts = append(fonts, protocol.FontInfo{
			Filename:  record.Name,
			SHA256:    record.ContentsHash,
			Size:      record.Size,
			Timestamp: record.ModTime.Unix(),
		})
	}
	sort.Slice(fonts, func(i, j int) bool {
		return fonts[i].Filename < fonts[j].Filename
	})
	return fonts
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	fonts := s.FontList()
	if fonts == nil {
		fonts = []protocol.FontInfo{}
	}
	writeJSON(w, http.StatusOK, fonts)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name, ok := cleanName(r.PathValue("name"))
	if !ok {
		http.Error(w, "invalid font name", http.StatusBadRequest)
		return
	}

	record, ok := s.store.Lookup(filepath.Join(s.dir, name))
	if !ok {
		http.Error(w, "font not found", http.StatusNotFound)
		return
	}

	f, err := fs.Open(record.Path)
	if err != nil {
		log.WithError(err).WithField("font", name).Error("Failed to open font for download")
		http.Error(w, "failed to read font", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", fingerprint.MimeType(name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", record.Size))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, f); err != nil {
		log.WithError(err).WithField("font", name).Debug("Download interrupted")
	}
}

func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	name, ok := cleanName(r.PathValue("name"))
	if !ok {
		http.Error(w, "invalid font name", http.StatusBadRequest)
		return
	}

	record, ok := s.store.Lookup(filepath.Join(s.dir, name))
	if !ok {
		http.Error(w, "font not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, record.ContentsHash)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("font")
	if err != nil {
		http.Error(w, `multipart field "font" is required`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	name, ok := cleanName(filepath.Base(header.Filename))
	if !ok || !fingerprint.IsFontFile(name) {
		http.Error(w, "not a recognized font file", http.StatusBadRequest)
		return
	}

	// Land the upload in a temp file first so a failed or rejected upload
	// never clobbers the font it targets.
	tmp, err := afero.TempFile(fs, s.dir, ".upload-*")
	if err != nil {
		log.WithError(err).Error("Failed to create upload temp file")
		http.Error(w, "failed to store font", http.StatusInternalServerError)
		return
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		fs.Remove(tmpPath)
		http.Error(w, "failed to store font", http.StatusInternalServerError)
		return
	}
	tmp.Close()

	if !fingerprint.ValidFontHeaderAs(tmpPath, name) {
		fs.Remove(tmpPath)
		http.Error(w, "file does not look like a font", http.StatusBadRequest)
		return
	}

	finalPath := filepath.Join(s.dir, name)
	_, existed := s.store.Lookup(finalPath)

	if err := fs.Rename(tmpPath, finalPath); err != nil {
		fs.Remove(tmpPath)
		log.WithError(err).WithField("font", name).Error("Failed to move upload into place")
		http.Error(w, "failed to store font", http.StatusInternalServerError)
		return
	}

	record, err := fingerprint.ScanFile(finalPath)
	if err != nil {
		log.WithError(err).WithField("font", name).Error("Failed to fingerprint upload")
		http.Error(w, "failed to store font", http.StatusInternalServerError)
		return
	}
	s.store.Update(record)

	log.WithField("font", name).
		WithField("size", humanize.Bytes(record.Size)).
		Info("Stored uploaded font")
	s.announce(record, existed)

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, uploadResponse{
		Filename: record.Name,
		SHA256:   record.ContentsHash,
		Size:     record.Size,
	})
}

func (s *Server) announce(record fingerprint.FontRecord, existed bool) {
	if s.publisher == nil {
		return
	}
	if existed {
		s.publisher.Publish(protocol.FontModified{
			Filename: record.Name,
			SHA256:   record.ContentsHash,
			Size:     record.Size,
		})
	} else {
		s.publisher.Publish(protocol.FontAdded{
			Filename: record.Name,
			SHA256:   record.ContentsHash,
			Size:     record.Size,
		})
	}
}

type uploadResponse struct {
	Filename string `json:"filename"`
	SHA256   string `json:"sha256"`
	Size     uint64 `json:"size"`
}

// cleanName rejects names that could escape the font directory.
func cleanName(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) ||
		strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("Failed to write response body")
	}
}
