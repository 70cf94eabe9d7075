package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name       string
		configEnv  string
		homeEnv    string
		wantConfig string
		wantBase   string
	}{
		{
			name:       "env overrides both",
			configEnv:  "/custom/config.toml",
			homeEnv:    "/custom/tgfs",
			wantConfig: "/custom/config.toml",
			wantBase:   "/custom/tgfs",
		},
		{
			name:       "home dir fallbacks",
			wantConfig: filepath.Join(homeDir, ".config", "tgfs.toml"),
			wantBase:   filepath.Join(homeDir, ".local", "share", "tgfs"),
		},
		{
			name:       "only TGFS_HOME set",
			homeEnv:    "/data/tgfs",
			wantConfig: filepath.Join(homeDir, ".config", "tgfs.toml"),
			wantBase:   "/data/tgfs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TGFS_CONFIG_PATH", tt.configEnv)
			t.Setenv("TGFS_HOME", tt.homeEnv)

			d, err := GetDefaults()
			if err != nil {
				t.Fatalf("GetDefaults() error = %v", err)
			}
			if d.ConfigPath != tt.wantConfig {
				t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, tt.wantConfig)
			}
			if d.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", d.BaseDir, tt.wantBase)
			}
			if want := filepath.Join(tt.wantBase, "log"); d.LogDir != want {
				t.Errorf("LogDir = %q, want %q", d.LogDir, want)
			}
		})
	}
}
