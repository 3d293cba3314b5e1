package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fontsync/fontsync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// FontRecord is the fingerprint of a single font file: the identity used to
// decide whether two copies of a font are the same without comparing bytes.
type FontRecord struct {
	// Name is the font's file name, unique within its directory.
	Name string

	// Path is the absolute path the record was scanned from.
	Path string

	// Size is the file size in bytes.
	Size uint64

	// ContentsHash is the lowercase hex sha256 digest of the exact bytes at
	// Path when the record was created.
	ContentsHash string

	// ModTime is the file's modification time when the record was created.
	ModTime time.Time
}

// Inventory is a name → content hash snapshot, the unit exchanged during
// reconciliation. It is derived from the store on demand, never persisted.
type Inventory map[string]string

// Store caches fingerprints for the files under a set of watched
// directories. It is mutated only by the goroutine that owns the
// corresponding watcher; readers get copied snapshots.
type Store struct {
	mu      sync.RWMutex
	records map[string]FontRecord
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{records: map[string]FontRecord{}}
}

// Scan walks all font-typed files under dir, re-hashes them, and atomically
// replaces the cached state for that directory. File symlinks are followed
// (directory symlinks are not walked, so scans can't cycle). Unreadable
// files are skipped and logged; a single bad font never aborts the scan.
func (s *Store) Scan(dir string) (Inventory, error) {
	// Trailing separators would defeat the stale-record purge below.
	dir = filepath.Clean(dir)
	if !dirExists(dir) {
		return nil, errors.FileNotFound{Path: dir}
	}

	scanned := map[string]FontRecord{}
	err := afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("Skipping unreadable path during scan")
			return nil
		}

		if fi.IsDir() || !IsFontFile(path) {
			return nil
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			// Follow the link once so fingerprints reflect the target bytes.
			fi, err = fs.Stat(path)
			if err != nil || fi.IsDir() {
				return nil
			}
		}

		record, err := ScanFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("Failed to fingerprint font")
			return nil
		}
		scanned[path] = record
		return nil
	})
	if err != nil {
		return nil, errors.WithContext(err, "walk")
	}

	s.mu.Lock()
	// Replace everything previously cached under dir in one critical
	// section so readers never observe a half-updated mapping.
	for path := range s.records {
		if strings.HasPrefix(path, dir+string(filepath.Separator)) || path == dir {
			delete(s.records, path)
		}
	}
	for path, record := range scanned {
		s.records[path] = record
	}
	s.mu.Unlock()

	inventory := Inventory{}
	for _, record := range scanned {
		inventory[record.Name] = record.ContentsHash
	}
	return inventory, nil
}

// ScanFile fingerprints a single file.
func ScanFile(path string) (FontRecord, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return FontRecord{}, errors.WithContext(err, "stat")
	}

	hash, err := HashFile(path)
	if err != nil {
		return FontRecord{}, errors.WithContext(err, "hash")
	}

	return FontRecord{
		Name:         filepath.Base(path),
		Path:         path,
		Size:         uint64(fi.Size()),
		ContentsHash: hash,
		ModTime:      fi.ModTime(),
	}, nil
}

// Lookup returns the cached record for path, if any.
func (s *Store) Lookup(path string) (FontRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[path]
	return record, ok
}

// Update caches the given record, replacing any prior record for its path.
func (s *Store) Update(record FontRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Path] = record
}

// Remove drops the cached record for path, returning the record that was
// dropped, if any.
func (s *Store) Remove(path string) (FontRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[path]
	delete(s.records, path)
	return record, ok
}

// Inventory returns a name → hash snapshot of every cached record.
func (s *Store) Inventory() Inventory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inventory := Inventory{}
	for _, record := range s.records {
		inventory[record.Name] = record.ContentsHash
	}
	return inventory
}

// Snapshot returns a copy of the cached records keyed by path. Copying means
// callers can iterate without holding the store's lock.
func (s *Store) Snapshot() map[string]FontRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]FontRecord, len(s.records))
	for path, record := range s.records {
		snapshot[path] = record
	}
	return snapshot
}

// Len returns the number of cached records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
