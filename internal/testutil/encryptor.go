package testutil

import (
	"tgfs-go/internal/encryption"
	"tgfs-go/internal/tgfs"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() tgfs.Encryptor {
	return encryption.NewTestEncryptor()
}
