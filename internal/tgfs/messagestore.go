package tgfs

import (
	"context"
	"errors"
	"io"
	"strconv"
)

// MessageID identifies one message in the remote message store.
// Zero is never assigned by a store and means "not persisted yet".
type MessageID int64

func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

var (
	// ErrMessageNotFound is returned by a MessageStore for ids it does not hold.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAttachmentTooLarge is returned when an attachment exceeds the store's payload limit.
	ErrAttachmentTooLarge = errors.New("attachment too large")
)

// MessageStore is the remote transport everything is persisted through.
// It knows nothing about directories or files: it stores size-limited
// attachments under ids, can replace an attachment in place, and keeps a
// list of pinned messages. All methods stream through io.Reader so no
// implementation needs to hold more than one attachment in memory.
type MessageStore interface {
	// SendAttachment stores a new message carrying size bytes read from r.
	SendAttachment(ctx context.Context, name string, r io.Reader, size int64) (MessageID, error)

	// EditAttachment replaces the attachment of an existing message.
	// Returns ErrMessageNotFound if the message is gone.
	EditAttachment(ctx context.Context, id MessageID, name string, r io.Reader, size int64) error

	// DownloadAttachment opens the attachment of a message for reading.
	// The caller must close the returned reader.
	DownloadAttachment(ctx context.Context, id MessageID) (io.ReadCloser, error)

	// Pin marks a message as pinned. Pinning an already pinned message moves
	// it to the front of ListPinned.
	Pin(ctx context.Context, id MessageID) error

	// ListPinned returns pinned message ids, most recently pinned first.
	ListPinned(ctx context.Context) ([]MessageID, error)

	// Close releases the store's resources.
	Close() error
}
