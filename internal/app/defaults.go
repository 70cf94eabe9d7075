package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the locations tgfs uses when nothing else is specified.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves default paths, letting the environment override them:
//   - TGFS_CONFIG_PATH: config file (default ~/.config/tgfs.toml)
//   - TGFS_HOME: data directory (default ~/.local/share/tgfs)
func GetDefaults() (*Defaults, error) {
	configPath := os.Getenv("TGFS_CONFIG_PATH")
	baseDir := os.Getenv("TGFS_HOME")

	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "tgfs.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "tgfs")
		}
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}
