//go:build windows

package install

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
)

func platformFontDir() (string, error) {
	if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
		return filepath.Join(appData, "Microsoft", "Windows", "Fonts"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "AppData", "Local",
		"Microsoft", "Windows", "Fonts"), nil
}

func platformFontDirs() []string {
	dirs := []string{filepath.Join(os.Getenv("SystemRoot"), "Fonts")}
	if user, err := platformFontDir(); err == nil {
		dirs = append(dirs, user)
	}
	return dirs
}

// Windows indexes the per-user font directory on login; already-running
// applications may need a restart to see the new font.
func refreshFontCache() error {
	log.Debug("Font installed; running applications may need a restart to see it")
	return nil
}
