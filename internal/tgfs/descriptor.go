package tgfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru"
)

// DescriptorFileName is the attachment name descriptors are stored under.
const DescriptorFileName = "descriptor.json"

// DefaultDescriptorCacheSize is the number of encoded descriptors kept in
// memory when no size is configured.
const DefaultDescriptorCacheSize = 256

// DescriptorStore reads and writes FileDescriptors as messages. Encoded
// descriptors are cached by message id so listing and downloading do not
// refetch them; mutations go through Fetch, which always reads the store.
type DescriptorStore struct {
	store  MessageStore
	cache  *lru.Cache
	logger Logger
}

// NewDescriptorStore creates a DescriptorStore caching up to cacheSize
// descriptors. A non-positive size uses DefaultDescriptorCacheSize.
func NewDescriptorStore(store MessageStore, cacheSize int, logger Logger) (*DescriptorStore, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultDescriptorCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating descriptor cache: %w", err)
	}
	return &DescriptorStore{store: store, cache: cache, logger: logger}, nil
}

// Get returns the descriptor stored in message id, from cache if possible.
func (s *DescriptorStore) Get(ctx context.Context, id MessageID) (*FileDescriptor, error) {
	if cached, ok := s.cache.Get(id); ok {
		return decodeDescriptor(bytes.NewReader(cached.([]byte)))
	}
	return s.Fetch(ctx, id)
}

// Purge drops every cached descriptor. Other writers edit descriptors in
// place, so cached entries are only trusted until the next remote read.
func (s *DescriptorStore) Purge() {
	s.cache.Purge()
}

// Fetch reads the descriptor stored in message id from the store and
// refreshes the cache.
func (s *DescriptorStore) Fetch(ctx context.Context, id MessageID) (*FileDescriptor, error) {
	rc, err := s.store.DownloadAttachment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return nil, fmt.Errorf("%w: descriptor %s: %w", ErrNotFound, id, err)
		}
		return nil, transportError("downloading descriptor", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, transportError("reading descriptor", err)
	}
	fd, err := decodeDescriptor(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, data)
	return fd, nil
}

// Create stores fd as a new message and returns its id.
func (s *DescriptorStore) Create(ctx context.Context, fd *FileDescriptor) (MessageID, error) {
	data, err := json.Marshal(fd)
	if err != nil {
		return 0, fmt.Errorf("encoding descriptor: %w", err)
	}
	id, err := s.store.SendAttachment(ctx, DescriptorFileName, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, transportError("sending descriptor", err)
	}
	s.cache.Add(id, data)
	s.logger.Debug("descriptor created", "message_id", id)
	return id, nil
}

// Update re-persists fd, which was read from message id. The message is
// edited in place; if the store no longer has it, fd is sent as a new
// message. The returned id is where fd now lives, and differs from id
// exactly when the descriptor moved.
func (s *DescriptorStore) Update(ctx context.Context, id MessageID, fd *FileDescriptor) (MessageID, error) {
	data, err := json.Marshal(fd)
	if err != nil {
		return 0, fmt.Errorf("encoding descriptor: %w", err)
	}
	err = s.store.EditAttachment(ctx, id, DescriptorFileName, bytes.NewReader(data), int64(len(data)))
	if err == nil {
		s.cache.Add(id, data)
		return id, nil
	}
	if !errors.Is(err, ErrMessageNotFound) {
		return 0, transportError("editing descriptor", err)
	}

	s.cache.Remove(id)
	newID, err := s.Create(ctx, fd)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("descriptor moved", "old_message_id", id, "message_id", newID)
	return newID, nil
}

func decodeDescriptor(r io.Reader) (*FileDescriptor, error) {
	var fd FileDescriptor
	if err := json.NewDecoder(r).Decode(&fd); err != nil {
		return nil, fmt.Errorf("decoding descriptor: %w", err)
	}
	fd.restoreVersionIDs()
	return &fd, nil
}
