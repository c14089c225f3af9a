// Package config handles loading the per-profile histdb configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the profile configuration. The history engine never reads it
// directly; the client passes the relevant fields in explicitly.
type Config struct {
	Data    DataConfig    `toml:"data"`
	History HistoryConfig `toml:"history"`
}

// DataConfig holds storage paths.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// HistoryConfig holds the history engine settings.
type HistoryConfig struct {
	Enabled  bool `toml:"enabled"`   // persist chat history at all
	PageSize int  `toml:"page_size"` // messages per fetch when not loading by date
}

// DefaultHome returns the default profile directory. Respects the
// HISTDB_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("HISTDB_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".histdb"
	}
	return filepath.Join(home, ".histdb")
}

// Load reads the configuration from the specified file. If path is empty,
// the default location (~/.histdb/config.toml) is used. A missing file is
// not an error; defaults apply.
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		Data: DataConfig{
			DataDir: homeDir,
		},
		History: HistoryConfig{
			Enabled:  true,
			PageSize: 100,
		},
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)

	return cfg, nil
}

// DatabasePath returns the path to the profile's history database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "history.db")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
