//go:build linux

package install

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallCopiesIntoFontDir(t *testing.T) {
	var ranCommands [][]string
	runCommand = func(cmd *exec.Cmd) error {
		ranCommands = append(ranCommands, cmd.Args)
		return nil
	}
	defer func() { runCommand = (*exec.Cmd).Run }()

	srcDir := t.TempDir()
	fontDir := t.TempDir()
	contents := []byte("glyphs")
	src := filepath.Join(srcDir, "Arial.ttf")
	require.NoError(t, os.WriteFile(src, contents, 0644))

	installer := &SystemInstaller{FontDir: fontDir}
	require.NoError(t, installer.Install(src))

	got, err := os.ReadFile(filepath.Join(fontDir, "Arial.ttf"))
	require.NoError(t, err)
	assert.Equal(t, contents, got)

	// fc-cache only runs when the binary exists on the host.
	if _, err := exec.LookPath("fc-cache"); err == nil {
		require.Len(t, ranCommands, 1)
		assert.Contains(t, ranCommands[0], "-f")
	} else {
		assert.Empty(t, ranCommands)
	}
}

func TestInstallCreatesFontDir(t *testing.T) {
	runCommand = func(*exec.Cmd) error { return nil }
	defer func() { runCommand = (*exec.Cmd).Run }()

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "Arial.ttf")
	require.NoError(t, os.WriteFile(src, []byte("glyphs"), 0644))

	fontDir := filepath.Join(t.TempDir(), "nested", "fonts")
	installer := &SystemInstaller{FontDir: fontDir}
	require.NoError(t, installer.Install(src))

	_, err := os.Stat(filepath.Join(fontDir, "Arial.ttf"))
	assert.NoError(t, err)
}

func TestInstallMissingSource(t *testing.T) {
	runCommand = func(*exec.Cmd) error { return nil }
	defer func() { runCommand = (*exec.Cmd).Run }()

	installer := &SystemInstaller{FontDir: t.TempDir()}
	assert.Error(t, installer.Install(filepath.Join(t.TempDir(), "ghost.ttf")))
}
