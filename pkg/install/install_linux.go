//go:build linux

package install

import (
	"os/exec"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
)

func platformFontDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "fonts"), nil
}

func platformFontDirs() []string {
	dirs := []string{"/usr/share/fonts", "/usr/local/share/fonts"}
	if user, err := platformFontDir(); err == nil {
		dirs = append(dirs, user)
	}
	return dirs
}

// refreshFontCache rebuilds the fontconfig cache so applications see the
// new font without a restart. A missing fc-cache binary isn't fatal; the
// cache is rebuilt lazily on the next login.
func refreshFontCache() error {
	fcCache, err := exec.LookPath("fc-cache")
	if err != nil {
		log.Debug("fc-cache not found; skipping font cache refresh")
		return nil
	}
	return runCommand(exec.Command(fcCache, "-f"))
}
