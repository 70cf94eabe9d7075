package tgfs

import (
	"bytes"
	"context"
	"fmt"
)

// Sync reconciles the local tree with the remote document and persists
// the result. Mutating operations call it themselves; call it directly to
// retry persistence after a transport failure, or to pick up changes made
// by other writers.
func (s *Service) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return err
	}
	return s.syncLocked(ctx)
}

// syncLocked runs one read-reconcile-write cycle. Touched paths stay
// dirty until a persist succeeds, so a failed cycle can be retried
// without repeating the mutation.
func (s *Service) syncLocked(ctx context.Context) error {
	remote, remoteID, err := s.fetchRemote(ctx)
	if err != nil {
		return err
	}
	s.descriptors.Purge()

	switch {
	case remoteID == 0 || remoteID == s.doc.MessageID:
	case s.doc.MessageID == 0:
		// Another writer created the control message after we loaded.
		s.doc.MessageID = remoteID
		s.pinPending = false
		s.logger.Info("adopted control message", "message_id", remoteID)
	default:
		// Another writer pinned a newer control message. Only the newest
		// pin is read, so move to it and carry over what it lacks.
		s.logger.Warn("control message superseded", "message_id", s.doc.MessageID, "pinned", remoteID)
		s.dirty.Add(LocalOnlyPaths(*remote, s.doc.Tree.Snapshot())...)
		s.doc.MessageID = remoteID
		s.pinPending = false
	}

	merged := Reconcile(remote, s.doc.Tree.Snapshot(), s.dirty)
	s.doc.Tree.Apply(merged)

	if err := s.persistLocked(ctx); err != nil {
		return err
	}
	s.dirty = TouchSet{}
	return nil
}

// fetchRemote downloads the current control message, if any.
func (s *Service) fetchRemote(ctx context.Context) (*DirectoryObject, MessageID, error) {
	pinned, err := s.store.ListPinned(ctx)
	if err != nil {
		return nil, 0, transportError("listing pinned messages", err)
	}
	if len(pinned) == 0 {
		return nil, 0, nil
	}

	id := pinned[0]
	rc, err := s.store.DownloadAttachment(ctx, id)
	if err != nil {
		return nil, 0, transportError("downloading metadata", err)
	}
	defer rc.Close()

	wire, err := decodeMetadataWire(rc)
	if err != nil {
		return nil, 0, err
	}
	return &wire.Root, id, nil
}

// persistLocked writes the document to the control message, creating and
// pinning it on first use.
func (s *Service) persistLocked(ctx context.Context) error {
	data, err := s.doc.Encode()
	if err != nil {
		return err
	}

	if s.doc.MessageID != 0 {
		err := s.store.EditAttachment(ctx, s.doc.MessageID, MetadataFileName, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return transportError("editing metadata", err)
		}
	} else {
		id, err := s.store.SendAttachment(ctx, MetadataFileName, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return transportError("sending metadata", err)
		}
		s.doc.MessageID = id
		s.pinPending = true
	}

	if s.pinPending {
		if err := s.store.Pin(ctx, s.doc.MessageID); err != nil {
			return transportError("pinning metadata", err)
		}
		s.pinPending = false
	}

	s.logger.Info("metadata persisted", "message_id", s.doc.MessageID, "size", len(data))
	return nil
}

// commit marks paths as touched and syncs.
func (s *Service) commit(ctx context.Context, paths ...string) error {
	s.dirty.Add(paths...)
	if err := s.syncLocked(ctx); err != nil {
		return fmt.Errorf("syncing metadata: %w", err)
	}
	return nil
}
