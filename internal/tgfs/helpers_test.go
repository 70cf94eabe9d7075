package tgfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// The fakes below mirror internal/testutil, which cannot be imported here
// because it depends on this package.

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type seqIDs struct {
	n int
}

func (g *seqIDs) New() string {
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

func newTestTree(t *testing.T) (*Tree, *testClock) {
	t.Helper()
	clock := newTestClock()
	return NewTree(&seqIDs{}, clock), clock
}

// mapStore is a bare in-memory MessageStore.
type mapStore struct {
	mu        sync.Mutex
	next      MessageID
	messages  map[MessageID][]byte
	names     map[MessageID]string
	pinned    []MessageID
	downloads int
	failSend  error
}

func newMapStore() *mapStore {
	return &mapStore{messages: make(map[MessageID][]byte), names: make(map[MessageID]string)}
}

func (s *mapStore) SendAttachment(_ context.Context, name string, r io.Reader, size int64) (MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend != nil {
		return 0, s.failSend
	}
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return 0, err
	}
	s.next++
	s.messages[s.next] = data
	s.names[s.next] = name
	return s.next, nil
}

func (s *mapStore) EditAttachment(_ context.Context, id MessageID, name string, r io.Reader, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrMessageNotFound
	}
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return err
	}
	s.messages[id] = data
	s.names[id] = name
	return nil
}

func (s *mapStore) DownloadAttachment(_ context.Context, id MessageID) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	s.downloads++
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *mapStore) Pin(_ context.Context, id MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = append([]MessageID{id}, s.pinned...)
	return nil
}

func (s *mapStore) ListPinned(context.Context) ([]MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MessageID(nil), s.pinned...), nil
}

func (s *mapStore) Close() error { return nil }

func (s *mapStore) remove(id MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
}
