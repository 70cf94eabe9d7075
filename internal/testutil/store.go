package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"tgfs-go/internal/messagestore"
	"tgfs-go/internal/tgfs"
)

// ErrInjected is returned by FlakyStore for scheduled failures.
var ErrInjected = errors.New("injected store failure")

// NewTestStore creates a new in-memory message store for testing.
func NewTestStore() *messagestore.MemoryStore {
	return messagestore.NewMemoryStore("test-store", 0)
}

// Store operations FlakyStore can fail.
const (
	OpSend       = "send"
	OpEdit       = "edit"
	OpDownload   = "download"
	OpPin        = "pin"
	OpListPinned = "list_pinned"
)

// FlakyStore wraps a MessageStore and fails selected operations on demand.
type FlakyStore struct {
	tgfs.MessageStore

	mu       sync.Mutex
	failures map[string]int
	skips    map[string]int
}

var _ tgfs.MessageStore = (*FlakyStore)(nil)

// NewFlakyStore wraps inner. No failures are scheduled initially.
func NewFlakyStore(inner tgfs.MessageStore) *FlakyStore {
	return &FlakyStore{MessageStore: inner, failures: make(map[string]int), skips: make(map[string]int)}
}

// FailNext makes the next n calls of op fail with ErrInjected.
func (f *FlakyStore) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] += n
}

// FailAfter lets the next skip calls of op through, then fails n calls.
func (f *FlakyStore) FailAfter(op string, skip, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips[op] += skip
	f.failures[op] += n
}

// Reset cancels all scheduled failures.
func (f *FlakyStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]int)
	f.skips = make(map[string]int)
}

func (f *FlakyStore) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[op] == 0 {
		return nil
	}
	if f.skips[op] > 0 {
		f.skips[op]--
		return nil
	}
	f.failures[op]--
	return fmt.Errorf("%s: %w", op, ErrInjected)
}

func (f *FlakyStore) SendAttachment(ctx context.Context, name string, r io.Reader, size int64) (tgfs.MessageID, error) {
	if err := f.fail(OpSend); err != nil {
		return 0, err
	}
	return f.MessageStore.SendAttachment(ctx, name, r, size)
}

func (f *FlakyStore) EditAttachment(ctx context.Context, id tgfs.MessageID, name string, r io.Reader, size int64) error {
	if err := f.fail(OpEdit); err != nil {
		return err
	}
	return f.MessageStore.EditAttachment(ctx, id, name, r, size)
}

func (f *FlakyStore) DownloadAttachment(ctx context.Context, id tgfs.MessageID) (io.ReadCloser, error) {
	if err := f.fail(OpDownload); err != nil {
		return nil, err
	}
	return f.MessageStore.DownloadAttachment(ctx, id)
}

func (f *FlakyStore) Pin(ctx context.Context, id tgfs.MessageID) error {
	if err := f.fail(OpPin); err != nil {
		return err
	}
	return f.MessageStore.Pin(ctx, id)
}

func (f *FlakyStore) ListPinned(ctx context.Context) ([]tgfs.MessageID, error) {
	if err := f.fail(OpListPinned); err != nil {
		return nil, err
	}
	return f.MessageStore.ListPinned(ctx)
}
