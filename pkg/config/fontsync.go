package config

import (
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/fontsync/fontsync/pkg/errors"
	"github.com/fontsync/fontsync/pkg/install"
)

const (
	// Path is the default path to the fontsync config.
	Path = "~/.fontsync.yaml"

	// InitialConfigVersion is the first version of the fontsync config.
	// Config files that do not specify a version default to this version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version supported by the
	// current fontsync binary.
	SupportedConfigVersion = "v1alpha1"

	// DefaultListenAddr is the store server's default HTTP address.
	DefaultListenAddr = "0.0.0.0:8843"

	// DefaultHubAddr is the notification hub's default address, one port
	// above the store.
	DefaultHubAddr = "0.0.0.0:8844"

	// DefaultServerURL is where clients look for the store by default.
	DefaultServerURL = "http://localhost:8843"

	// DefaultClientHubAddr is where clients look for the hub by default.
	DefaultClientHubAddr = "localhost:8844"
)

// Config is the on-disk fontsync configuration, shared by the server and
// client commands.
type Config struct {
	Version string `json:"version,omitempty"`

	Server ServerConfig `json:"server,omitempty"`
	Client ClientConfig `json:"client,omitempty"`
}

// ServerConfig configures the store server.
type ServerConfig struct {
	// ListenAddr is the HTTP address the store serves fonts on.
	ListenAddr string `json:"listenAddr,omitempty"`

	// HubAddr is the address the notification hub listens on.
	HubAddr string `json:"hubAddr,omitempty"`

	// StoreDir is the canonical font directory the store serves.
	StoreDir string `json:"storeDir,omitempty"`
}

// ClientConfig configures the sync and watch commands.
type ClientConfig struct {
	// ServerURL is the store's base URL.
	ServerURL string `json:"serverURL,omitempty"`

	// HubAddr is the notification hub's address.
	HubAddr string `json:"hubAddr,omitempty"`

	// FontDirs are the local directories to fingerprint and watch.
	FontDirs []string `json:"fontDirs,omitempty"`

	// DownloadDir is where fetched fonts land before installation.
	DownloadDir string `json:"downloadDir,omitempty"`

	// Install registers downloaded fonts with the operating system.
	Install bool `json:"install,omitempty"`
}

func (c Config) getVersion() string {
	return c.Version
}

// SyncDirs returns every directory contributing to the local inventory: the
// configured font directories plus the download directory. Fetched fonts
// land in the download directory, so leaving it out would make the client
// fetch the same fonts on every run.
func (c ClientConfig) SyncDirs() []string {
	dirs := make([]string, 0, len(c.FontDirs)+1)
	seen := map[string]bool{}
	for _, dir := range append(append([]string{}, c.FontDirs...), c.DownloadDir) {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	return dirs
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// Parse loads the config from the default path. A missing config file isn't
// an error; every field has a usable default.
func Parse() (Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{Version: InitialConfigVersion}
	if err := parseConfig(path, &config, SupportedConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); !ok {
			return Config{}, errors.WithContext(err, "parse")
		}
		config = Config{Version: SupportedConfigVersion}
	}

	if err := config.applyDefaults(); err != nil {
		return Config{}, errors.WithContext(err, "apply defaults")
	}
	return config, nil
}

// Write writes the given config to the default path.
func Write(cfg Config) error {
	cfg.Version = SupportedConfigVersion
	path, err := GetConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// GetConfigPath returns the expanded path to the fontsync config, ready to
// be passed to file operations.
func GetConfigPath() (string, error) {
	return homedirExpand(Path)
}

func (c *Config) applyDefaults() error {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.HubAddr == "" {
		c.Server.HubAddr = DefaultHubAddr
	}
	if c.Server.StoreDir == "" {
		c.Server.StoreDir = "~/.fontsync/store"
	}
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = DefaultServerURL
	}
	if c.Client.HubAddr == "" {
		c.Client.HubAddr = DefaultClientHubAddr
	}
	if c.Client.DownloadDir == "" {
		c.Client.DownloadDir = "~/.fontsync/downloads"
	}
	if len(c.Client.FontDirs) == 0 {
		if c.Client.FontDirs = install.DefaultFontDirs(); len(c.Client.FontDirs) == 0 {
			// Nothing exists yet on this machine. Fall back to the
			// per-user directory; the watch command creates it.
			fontDir, err := install.UserFontDir()
			if err != nil {
				return errors.WithContext(err, "resolve user font dir")
			}
			c.Client.FontDirs = []string{fontDir}
		}
	}

	var err error
	if c.Server.StoreDir, err = homedirExpand(c.Server.StoreDir); err != nil {
		return errors.WithContext(err, "expand store dir")
	}
	if c.Client.DownloadDir, err = homedirExpand(c.Client.DownloadDir); err != nil {
		return errors.WithContext(err, "expand download dir")
	}
	for i, dir := range c.Client.FontDirs {
		if c.Client.FontDirs[i], err = homedirExpand(dir); err != nil {
			return errors.WithContext(err, "expand font dir")
		}
	}

	// Relative paths are evaluated relative to the config file.
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	configDir := filepath.Dir(configPath)
	if !filepath.IsAbs(c.Server.StoreDir) {
		c.Server.StoreDir = filepath.Join(configDir, c.Server.StoreDir)
	}
	if !filepath.IsAbs(c.Client.DownloadDir) {
		c.Client.DownloadDir = filepath.Join(configDir, c.Client.DownloadDir)
	}
	return nil
}
