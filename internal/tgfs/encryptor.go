package tgfs

import "io"

// Encryptor encrypts attachments before they reach the message store.
// Encryption uses the public key only; decryption needs a passphrase to
// unlock the private key, producing a DecryptionContext for the session.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `tgfs config init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the key material exists.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of a session.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
