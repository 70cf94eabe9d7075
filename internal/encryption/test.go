package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"tgfs-go/internal/tgfs"
)

// testHeader marks attachments written by TestEncryptor.
var testHeader = []byte("TGFSENC\x00")

// testMask is XORed into every payload byte so plaintext never shows up
// in a store used by tests.
const testMask = 0x5a

// TestEncryptor is a keyless, deterministic Encryptor for tests. Its
// output is testHeader followed by the masked payload.
type TestEncryptor struct {
	setupCalled bool
}

var _ tgfs.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return mask(w, r)
}

func (e *TestEncryptor) Unlock(passphrase string) (tgfs.DecryptionContext, error) {
	return &TestDecryptionContext{}, nil
}

// TestDecryptionContext reverses TestEncryptor.
type TestDecryptionContext struct{}

var _ tgfs.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return errors.New("not a test-encrypted attachment")
	}
	return mask(w, r)
}

func mask(w io.Writer, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for i := range buf[:n] {
				buf[i] ^= testMask
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing payload: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
	}
}
