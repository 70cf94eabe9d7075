package messagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"tgfs-go/internal/tgfs"
)

type memoryMessage struct {
	name string
	data []byte
}

// MemoryStore is an in-memory MessageStore, useful for tests and for
// throwaway sessions. It is safe for concurrent use.
type MemoryStore struct {
	name     string
	maxSize  int64
	messages map[tgfs.MessageID]memoryMessage
	pinned   []tgfs.MessageID
	nextID   tgfs.MessageID
	calls    map[string]int
	mu       sync.Mutex
}

var _ tgfs.MessageStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. maxSize limits a single
// attachment in bytes; 0 means unlimited.
func NewMemoryStore(name string, maxSize int64) *MemoryStore {
	return &MemoryStore{
		name:     name,
		maxSize:  maxSize,
		messages: make(map[tgfs.MessageID]memoryMessage),
		calls:    make(map[string]int),
	}
}

func (m *MemoryStore) readAttachment(r io.Reader, size int64) ([]byte, error) {
	if m.maxSize > 0 && size > m.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", tgfs.ErrAttachmentTooLarge, size, m.maxSize)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

// SendAttachment stores a new message.
func (m *MemoryStore) SendAttachment(ctx context.Context, name string, r io.Reader, size int64) (tgfs.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := m.readAttachment(r, size)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["send"]++
	m.nextID++
	m.messages[m.nextID] = memoryMessage{name: name, data: data}
	return m.nextID, nil
}

// EditAttachment replaces the attachment of an existing message.
func (m *MemoryStore) EditAttachment(ctx context.Context, id tgfs.MessageID, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := m.readAttachment(r, size)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["edit"]++
	if _, ok := m.messages[id]; !ok {
		return fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
	}
	m.messages[id] = memoryMessage{name: name, data: data}
	return nil
}

// DownloadAttachment returns a reader over a copy of the attachment.
func (m *MemoryStore) DownloadAttachment(ctx context.Context, id tgfs.MessageID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["download"]++
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(msg.data))), nil
}

// Pin moves id to the front of the pinned list.
func (m *MemoryStore) Pin(ctx context.Context, id tgfs.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["pin"]++
	if _, ok := m.messages[id]; !ok {
		return fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
	}
	m.pinned = prependUnique(m.pinned, id)
	return nil
}

// ListPinned returns pinned ids, most recent first.
func (m *MemoryStore) ListPinned(ctx context.Context) ([]tgfs.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["list_pinned"]++
	return append([]tgfs.MessageID(nil), m.pinned...), nil
}

// Delete drops a message, as if it had been removed on the remote side.
func (m *MemoryStore) Delete(id tgfs.MessageID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	for i, p := range m.pinned {
		if p == id {
			m.pinned = append(m.pinned[:i], m.pinned[i+1:]...)
			break
		}
	}
}

// Calls returns how many times op ("send", "edit", "download", "pin",
// "list_pinned") was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// MessageCount returns the number of stored messages.
func (m *MemoryStore) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// AttachmentName returns the name a message was stored with.
func (m *MemoryStore) AttachmentName(id tgfs.MessageID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg.name, ok
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// prependUnique puts id at the front of ids, removing any older entry.
func prependUnique(ids []tgfs.MessageID, id tgfs.MessageID) []tgfs.MessageID {
	out := make([]tgfs.MessageID, 0, len(ids)+1)
	out = append(out, id)
	for _, p := range ids {
		if p != id {
			out = append(out, p)
		}
	}
	return out
}
