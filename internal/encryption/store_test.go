package encryption

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"tgfs-go/internal/config"
	"tgfs-go/internal/messagestore"
	"tgfs-go/internal/tgfs"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	inner := messagestore.NewMemoryStore("inner", 0)
	enc := NewTestEncryptor()
	dec, _ := enc.Unlock("")
	s := NewStore(inner, enc, dec)

	id, err := s.SendAttachment(ctx, "secret", strings.NewReader("plaintext"), 9)
	if err != nil {
		t.Fatalf("SendAttachment() error = %v", err)
	}

	t.Run("inner store holds ciphertext", func(t *testing.T) {
		rc, err := inner.DownloadAttachment(ctx, id)
		if err != nil {
			t.Fatalf("inner DownloadAttachment() error = %v", err)
		}
		defer rc.Close()
		raw, _ := io.ReadAll(rc)
		if !bytes.HasPrefix(raw, testHeader) || bytes.Contains(raw, []byte("plaintext")) {
			t.Errorf("inner attachment = %q, want encrypted form", raw)
		}
	})

	t.Run("download decrypts", func(t *testing.T) {
		rc, err := s.DownloadAttachment(ctx, id)
		if err != nil {
			t.Fatalf("DownloadAttachment() error = %v", err)
		}
		defer rc.Close()
		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("reading: %v", err)
		}
		if string(got) != "plaintext" {
			t.Errorf("got %q, want %q", got, "plaintext")
		}
	})

	t.Run("edit re-encrypts", func(t *testing.T) {
		if err := s.EditAttachment(ctx, id, "secret", strings.NewReader("changed"), 7); err != nil {
			t.Fatalf("EditAttachment() error = %v", err)
		}
		rc, _ := s.DownloadAttachment(ctx, id)
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != "changed" {
			t.Errorf("got %q, want %q", got, "changed")
		}
	})

	t.Run("early close", func(t *testing.T) {
		rc, err := s.DownloadAttachment(ctx, id)
		if err != nil {
			t.Fatalf("DownloadAttachment() error = %v", err)
		}
		if err := rc.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	t.Run("missing message", func(t *testing.T) {
		_, err := s.DownloadAttachment(ctx, 424242)
		if !errors.Is(err, tgfs.ErrMessageNotFound) {
			t.Errorf("DownloadAttachment() error = %v, want ErrMessageNotFound", err)
		}
	})

	t.Run("pins pass through", func(t *testing.T) {
		if err := s.Pin(ctx, id); err != nil {
			t.Fatalf("Pin() error = %v", err)
		}
		pinned, err := s.ListPinned(ctx)
		if err != nil || len(pinned) != 1 || pinned[0] != id {
			t.Errorf("ListPinned() = %v, %v, want [%s]", pinned, err, id)
		}
	})

	t.Run("locked store cannot download", func(t *testing.T) {
		locked := NewStore(inner, enc, nil)
		if _, err := locked.DownloadAttachment(ctx, id); err == nil {
			t.Error("DownloadAttachment() on locked store expected error")
		}
	})
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		typ     string
		wantNil bool
		wantErr bool
	}{
		{typ: "", wantNil: true},
		{typ: "none", wantNil: true},
		{typ: "age"},
		{typ: "test"},
		{typ: "rot13", wantNil: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			cfg := configFor(t, tt.typ)
			got, err := NewEncryptorFromConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("NewEncryptorFromConfig() = %v, wantNil %v", got, tt.wantNil)
			}
		})
	}
}

func configFor(t *testing.T, typ string) config.EncryptionConfig {
	t.Helper()
	dir := t.TempDir()
	return config.EncryptionConfig{
		Type:           typ,
		PublicKeyPath:  dir + "/tgfs.pub",
		PrivateKeyPath: dir + "/tgfs.key",
	}
}
