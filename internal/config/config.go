package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for tgfs.
type Config struct {
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir" validate:"required"`
	Store      StoreConfig      `toml:"store"`
	Transfer   TransferConfig   `toml:"transfer"`
	Encryption EncryptionConfig `toml:"encryption"`
	Cache      CacheConfig      `toml:"cache"`
	Log        LogConfig        `toml:"log"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// StoreConfig selects the message store everything is persisted through.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type" validate:"required,oneof=memory filesystem sqlite s3"`
	Name string `toml:"name"`

	// MaxAttachmentSize caps a single attachment in bytes; 0 means no limit.
	MaxAttachmentSize int64 `toml:"max_attachment_size,omitempty" validate:"gte=0"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" validate:"required_if=Type filesystem"`

	// SQLite-specific fields (only used when Type == "sqlite")
	SQLitePath string `toml:"sqlite_path,omitempty" validate:"required_if=Type sqlite"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty" validate:"required_if=Type s3"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// TransferConfig controls how file content is split into parts.
type TransferConfig struct {
	PartSize int `toml:"part_size" validate:"gte=0"` // bytes; 0 selects the default
}

// EncryptionConfig holds paths to the age key pair used for encryption.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=none age test"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path" validate:"required_if=Type age"`
	PrivateKeyPath string `toml:"private_key_path" validate:"required_if=Type age"`
}

// CacheConfig sizes in-memory caches.
type CacheConfig struct {
	Descriptors int `toml:"descriptors" validate:"gte=0"` // number of file descriptors; 0 selects the default
}

// LogConfig controls the log file and its rotation.
type LogConfig struct {
	Level      string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `toml:"max_age_days" validate:"gte=0"`
	Compress   bool   `toml:"compress"`
}

// FilesystemConfig holds local filesystem settings used by `put -r`.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a new Config rooted at baseDir with a filesystem store
// and default key paths.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type:   "filesystem",
			Name:   "default",
			FSRoot: filepath.Join(baseDir, "store"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "tgfs.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "tgfs.key"),
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init validates cfg and writes it to a new config file at path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
