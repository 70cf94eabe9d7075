package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"
	"filippo.io/age/armor"

	"tgfs-go/internal/config"
	"tgfs-go/internal/tgfs"
)

// AgeEncryptor encrypts attachments to an X25519 recipient with
// filippo.io/age. The recipient is kept in plain text next to the identity,
// which is armored and sealed with the user's passphrase.
type AgeEncryptor struct {
	keys keyFiles

	mu        sync.Mutex
	recipient age.Recipient
}

var _ tgfs.Encryptor = (*AgeEncryptor)(nil)

type keyFiles struct {
	recipient string
	identity  string
}

func (k keyFiles) exist() bool {
	for _, p := range []string{k.recipient, k.identity} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// NewAgeEncryptor creates an AgeEncryptor for the key pair named in cfg.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{keys: keyFiles{recipient: cfg.PublicKeyPath, identity: cfg.PrivateKeyPath}}
}

// Setup generates a key pair and writes both halves. It refuses to replace
// an existing pair, since attachments already stored could not be read
// afterwards.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if e.keys.exist() {
		return fmt.Errorf("keys already exist at %s", filepath.Dir(e.keys.identity))
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	sealed, err := sealIdentity(identity, passphrase)
	if err != nil {
		return err
	}

	if err := writeKeyFile(e.keys.recipient, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if err := writeKeyFile(e.keys.identity, sealed, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	return e.keys.exist()
}

// Encrypt streams r to w encrypted for the stored recipient.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return err
	}

	enc, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("starting encryption: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		return fmt.Errorf("encrypting attachment: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finishing encryption: %w", err)
	}
	return nil
}

// Unlock opens the sealed identity with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (tgfs.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.keys.identity)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	identity, err := openIdentity(sealed, passphrase)
	if err != nil {
		return nil, err
	}
	return &AgeDecryptionContext{identity: identity}, nil
}

func (e *AgeEncryptor) loadRecipient() (age.Recipient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recipient != nil {
		return e.recipient, nil
	}

	data, err := os.ReadFile(e.keys.recipient)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.keys.recipient, err)
	}
	if len(recipients) != 1 {
		return nil, fmt.Errorf("public key %s: want one recipient, found %d", e.keys.recipient, len(recipients))
	}
	e.recipient = recipients[0]
	return e.recipient, nil
}

// sealIdentity encrypts identity to a scrypt recipient and armors the
// result so the key file is plain text.
func sealIdentity(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}

	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("armoring private key: %w", err)
	}
	return buf.Bytes(), nil
}

func openIdentity(sealed []byte, passphrase string) (age.Identity, error) {
	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving key from passphrase: %w", err)
	}
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(sealed)), scrypt)
	if err != nil {
		return nil, fmt.Errorf("opening private key (wrong passphrase?): %w", err)
	}
	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("private key file holds no identity")
	}
	return identities[0], nil
}

func writeKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

// AgeDecryptionContext holds an unlocked identity.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ tgfs.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt streams the plaintext of the age ciphertext in r to w.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(r, c.identity)
	if err != nil {
		return fmt.Errorf("opening attachment: %w", err)
	}
	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("decrypting attachment: %w", err)
	}
	return nil
}
