package encryption

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"tgfs-go/internal/tgfs"
)

// Store encrypts every attachment on its way into the wrapped MessageStore
// and decrypts it on the way out. Ciphertext is staged in memory because
// the store needs its size up front; attachments are at most one part, so
// this stays bounded.
type Store struct {
	inner tgfs.MessageStore
	enc   tgfs.Encryptor
	dec   tgfs.DecryptionContext
}

var _ tgfs.MessageStore = (*Store)(nil)

// NewStore wraps inner. dec may be nil for a write-only session, in which
// case downloads fail.
func NewStore(inner tgfs.MessageStore, enc tgfs.Encryptor, dec tgfs.DecryptionContext) *Store {
	return &Store{inner: inner, enc: enc, dec: dec}
}

func (s *Store) seal(r io.Reader) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	if err := s.enc.Encrypt(r, &buf); err != nil {
		return nil, fmt.Errorf("encrypting attachment: %w", err)
	}
	return &buf, nil
}

func (s *Store) SendAttachment(ctx context.Context, name string, r io.Reader, size int64) (tgfs.MessageID, error) {
	sealed, err := s.seal(io.LimitReader(r, size))
	if err != nil {
		return 0, err
	}
	return s.inner.SendAttachment(ctx, name, sealed, int64(sealed.Len()))
}

func (s *Store) EditAttachment(ctx context.Context, id tgfs.MessageID, name string, r io.Reader, size int64) error {
	sealed, err := s.seal(io.LimitReader(r, size))
	if err != nil {
		return err
	}
	return s.inner.EditAttachment(ctx, id, name, sealed, int64(sealed.Len()))
}

// DownloadAttachment decrypts while the caller reads. Closing the reader
// early stops the decrypting goroutine.
func (s *Store) DownloadAttachment(ctx context.Context, id tgfs.MessageID) (io.ReadCloser, error) {
	if s.dec == nil {
		return nil, fmt.Errorf("downloading %s: store is locked", id)
	}
	rc, err := s.inner.DownloadAttachment(ctx, id)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		err := s.dec.Decrypt(rc, pw)
		rc.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (s *Store) Pin(ctx context.Context, id tgfs.MessageID) error {
	return s.inner.Pin(ctx, id)
}

func (s *Store) ListPinned(ctx context.Context) ([]tgfs.MessageID, error) {
	return s.inner.ListPinned(ctx)
}

func (s *Store) Close() error {
	return s.inner.Close()
}

