// Package install registers downloaded fonts with the operating system's
// per-user font directory.
package install

import (
	"io"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fontsync/fontsync/pkg/errors"
)

// Mocked out for unit testing.
var (
	fs         = afero.NewOsFs()
	runCommand = (*exec.Cmd).Run
)

// Installer registers a font file with the operating system.
type Installer interface {
	Install(path string) error
}

// SystemInstaller copies fonts into the platform's per-user font directory
// and refreshes the system font cache where the platform needs it.
type SystemInstaller struct {
	// FontDir overrides the platform's default per-user font directory.
	FontDir string
}

// New returns an installer targeting the platform's default font directory.
func New() *SystemInstaller {
	return &SystemInstaller{}
}

// UserFontDir returns the platform's per-user font directory.
func UserFontDir() (string, error) {
	return platformFontDir()
}

// DefaultFontDirs returns the platform's font directories, system and
// per-user, filtered to those that exist.
func DefaultFontDirs() []string {
	var existing []string
	for _, dir := range platformFontDirs() {
		if fi, err := fs.Stat(dir); err == nil && fi.IsDir() {
			existing = append(existing, dir)
		}
	}
	return existing
}

func (s *SystemInstaller) Install(path string) error {
	dir := s.FontDir
	if dir == "" {
		var err error
		if dir, err = platformFontDir(); err != nil {
			return errors.WithContext(err, "resolve font dir")
		}
	}

	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithContext(err, "create font dir")
	}

	dst := filepath.Join(dir, filepath.Base(path))
	if err := copyFile(path, dst); err != nil {
		return errors.WithContext(err, "copy font")
	}

	if err := refreshFontCache(); err != nil {
		return errors.WithContext(err, "refresh font cache")
	}

	log.WithField("font", filepath.Base(path)).
		WithField("dir", dir).
		Info("Installed font")
	return nil
}

func copyFile(src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return errors.WithContext(err, "create destination")
	}

	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fs.Remove(dst)
		return errors.WithContext(err, "copy contents")
	}
	return nil
}
