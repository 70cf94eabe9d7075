package messagestore

import (
	"context"
	"fmt"

	"tgfs-go/internal/config"
	"tgfs-go/internal/tgfs"
)

// NewMessageStoreFromConfig creates a MessageStore implementation based on the store config type.
func NewMessageStoreFromConfig(ctx context.Context, cfg config.StoreConfig, clock tgfs.Clock) (tgfs.MessageStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Name, cfg.MaxAttachmentSize), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem store requires fs_root to be set")
		}
		store, err := NewFileSystemStore(cfg.Name, cfg.FSRoot, cfg.MaxAttachmentSize)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite store requires sqlite_path to be set")
		}
		store, err := NewSQLiteStore(cfg.SQLitePath, cfg.MaxAttachmentSize, clock)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 store requires s3_bucket to be set")
		}
		s3cfg := S3StoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			MaxSize:         cfg.MaxAttachmentSize,
		}
		client, err := NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, s3cfg, clock), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
