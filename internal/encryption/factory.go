package encryption

import (
	"fmt"

	"tgfs-go/internal/config"
	"tgfs-go/internal/tgfs"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. It returns nil for "none": attachments are stored as is.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (tgfs.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
