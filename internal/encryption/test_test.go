package encryption

import (
	"bytes"
	"testing"
)

func TestTestEncryptor(t *testing.T) {
	t.Parallel()

	e := NewTestEncryptor()
	if err := e.Setup("any-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.setupCalled {
		t.Error("Setup() did not record that it was called")
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false, want true")
	}

	dec, err := e.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	for _, input := range [][]byte{{}, []byte("hello"), bytes.Repeat([]byte{0xfe}, 4096)} {
		var encrypted bytes.Buffer
		if err := e.Encrypt(bytes.NewReader(input), &encrypted); err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if !bytes.HasPrefix(encrypted.Bytes(), testHeader) {
			t.Errorf("ciphertext missing test header")
		}
		if len(input) > 0 && bytes.Contains(encrypted.Bytes(), input) {
			t.Errorf("ciphertext contains the plaintext")
		}

		var decrypted bytes.Buffer
		if err := dec.Decrypt(&encrypted, &decrypted); err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(decrypted.Bytes(), input) {
			t.Errorf("round-trip got %d bytes, want %d", decrypted.Len(), len(input))
		}
	}
}

func TestTestDecryptionContext_BadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "truncated header", input: testHeader[:3]},
		{name: "wrong header", input: []byte("NOTTGFS\x00payload")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := (&TestDecryptionContext{}).Decrypt(bytes.NewReader(tt.input), &out); err == nil {
				t.Error("Decrypt() expected error")
			}
		})
	}
}
