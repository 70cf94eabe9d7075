package tgfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultPartSize is the part size used when none is configured.
const DefaultPartSize = 512 * 1024

var errReaderClosed = errors.New("read from closed download")

// Transfer moves file content through the message store in parts. Upload
// memory is bounded by one part buffer; downloads hold at most one open
// part at a time.
type Transfer struct {
	store    MessageStore
	partSize int
	logger   Logger
}

// NewTransfer creates a Transfer. A non-positive partSize uses
// DefaultPartSize.
func NewTransfer(store MessageStore, partSize int, logger Logger) *Transfer {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return &Transfer{store: store, partSize: partSize, logger: logger}
}

// PartSize returns the configured part size.
func (t *Transfer) PartSize() int { return t.partSize }

// Upload reads r to EOF, sending each part as its own message. It returns
// the ordered part list and the total size. Empty content yields no parts.
// On failure, parts already sent are left unreferenced.
func (t *Transfer) Upload(ctx context.Context, name string, r io.Reader) ([]Part, int64, error) {
	buf := make([]byte, t.partSize)
	parts := []Part{}
	var total int64

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			partName := fmt.Sprintf("%s.part%d", name, i)
			id, err := t.store.SendAttachment(ctx, partName, bytes.NewReader(buf[:n]), int64(n))
			if err != nil {
				return nil, 0, transportError(fmt.Sprintf("sending part %d of %s", i, name), err)
			}
			parts = append(parts, Part{MessageID: id, Size: int64(n)})
			total += int64(n)
			t.logger.Debug("part uploaded", "name", name, "part", i, "size", n, "message_id", id)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, 0, fmt.Errorf("reading content of %s: %w", name, readErr)
		}
	}

	return parts, total, nil
}

// Download returns a reader over the concatenated parts. Nothing is
// fetched until the first Read; part N+1 is opened only once part N is
// exhausted. Each call returns an independent reader.
func (t *Transfer) Download(ctx context.Context, name string, parts []Part) io.ReadCloser {
	return &partReader{ctx: ctx, store: t.store, name: name, parts: parts, logger: t.logger}
}

type partReader struct {
	ctx    context.Context
	store  MessageStore
	name   string
	parts  []Part
	logger Logger

	idx    int
	cur    io.ReadCloser
	read   int64
	closed bool
}

func (r *partReader) Read(p []byte) (int, error) {
	for {
		if r.closed {
			return 0, errReaderClosed
		}
		if r.cur == nil {
			if r.idx >= len(r.parts) {
				return 0, io.EOF
			}
			part := r.parts[r.idx]
			rc, err := r.store.DownloadAttachment(r.ctx, part.MessageID)
			if err != nil {
				return 0, transportError(fmt.Sprintf("downloading part %d of %s", r.idx, r.name), err)
			}
			r.cur = rc
			r.read = 0
			r.logger.Debug("part opened", "name", r.name, "part", r.idx, "message_id", part.MessageID)
		}

		n, err := r.cur.Read(p)
		r.read += int64(n)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			want := r.parts[r.idx].Size
			if r.read != want {
				return n, fmt.Errorf("%w: part %d of %s has %d bytes, expected %d", ErrTransport, r.idx, r.name, r.read, want)
			}
			r.idx++
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, transportError(fmt.Sprintf("reading part %d of %s", r.idx, r.name), err)
		}
		return n, nil
	}
}

// Close releases the currently open part, if any.
func (r *partReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
