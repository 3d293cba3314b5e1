//go:build darwin

package install

import (
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

func platformFontDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "Fonts"), nil
}

func platformFontDirs() []string {
	dirs := []string{"/System/Library/Fonts", "/Library/Fonts"}
	if user, err := platformFontDir(); err == nil {
		dirs = append(dirs, user)
	}
	return dirs
}

// macOS picks up fonts dropped into ~/Library/Fonts without any cache
// refresh.
func refreshFontCache() error {
	return nil
}
