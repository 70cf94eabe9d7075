package tgfs

import (
	"context"
	"fmt"
	"io"
)

// UploadRequest names the target of an upload. Under defaults to the
// root. When the file exists and VersionID is set, that version's content
// is replaced; otherwise a new version is added.
type UploadRequest struct {
	Name      string
	Under     *Directory
	VersionID string
}

// UploadFile stores the content of r under req.Name and returns the
// resulting descriptor.
func (s *Service) UploadFile(ctx context.Context, req UploadRequest, r io.Reader) (*FileDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	dir, err := s.resolveDir(req.Under)
	if err != nil {
		return nil, err
	}
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}

	if fr := dir.FindFiles(req.Name)[0]; fr != nil {
		return s.updateFile(ctx, fr, req.VersionID, r)
	}
	if err := dir.checkFreeName(req.Name); err != nil {
		return nil, err
	}
	return s.createFile(ctx, dir, req.Name, r)
}

func (s *Service) createFile(ctx context.Context, dir *Directory, name string, r io.Reader) (*FileDescriptor, error) {
	path := joinPath(dir.Path(), name)

	parts, size, err := s.transfer.Upload(ctx, name, r)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}

	now := timestamp(s.clock)
	fd := NewFileDescriptor(now)
	v := &FileVersion{ID: s.idgen.New(), Size: size, CreatedAt: now, UpdatedAt: now, Parts: parts}
	if err := fd.AddVersion(v); err != nil {
		return nil, err
	}

	id, err := s.descriptors.Create(ctx, fd)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}
	if _, err := s.doc.Tree.CreateFileRef(dir, name, id); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, path); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}

	s.logger.Info("file uploaded", "path", path, "version", v.ID, "size", size, "parts", len(parts))
	return fd, nil
}

func (s *Service) updateFile(ctx context.Context, fr *FileRef, versionID string, r io.Reader) (*FileDescriptor, error) {
	path := fr.Path()

	fd, err := s.descriptors.Fetch(ctx, fr.MessageID())
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}
	if versionID != "" {
		if _, ok := fd.Versions[versionID]; !ok {
			return nil, fmt.Errorf("%w: %s has no version %s to replace", ErrInvalidOperation, path, versionID)
		}
	}

	parts, size, err := s.transfer.Upload(ctx, fr.Name(), r)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}

	now := timestamp(s.clock)
	v := &FileVersion{ID: versionID, Size: size, CreatedAt: now, UpdatedAt: now, Parts: parts}
	if versionID == "" {
		v.ID = s.idgen.New()
		err = fd.AddVersion(v)
	} else {
		err = fd.ReplaceVersion(v)
	}
	if err != nil {
		return nil, err
	}

	if err := s.storeDescriptor(ctx, fr, fd); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}

	s.logger.Info("file uploaded", "path", path, "version", v.ID, "size", size, "parts", len(parts), "replaced", versionID != "")
	return fd, nil
}

// storeDescriptor re-persists fd and repairs the pointers of fr and every
// copy of it when the descriptor moved. Metadata is only written in that
// case.
func (s *Service) storeDescriptor(ctx context.Context, fr *FileRef, fd *FileDescriptor) error {
	oldID := fr.MessageID()
	newID, err := s.descriptors.Update(ctx, oldID, fd)
	if err != nil {
		return err
	}
	if newID == oldID {
		return nil
	}

	var paths []string
	for _, ref := range s.doc.Tree.RefsTo(oldID) {
		if err := s.doc.Tree.SetMessageID(ref, newID); err != nil {
			return err
		}
		s.logger.Warn("repairing file pointer", "path", ref.Path(), "message_id", newID)
		paths = append(paths, ref.Path())
	}
	return s.commit(ctx, paths...)
}

// CreateEmptyFile creates a zero-byte file without transferring any
// content: its descriptor has no versions.
func (s *Service) CreateEmptyFile(ctx context.Context, name string, under *Directory) (*FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	dir, err := s.resolveDir(under)
	if err != nil {
		return nil, err
	}
	if err := dir.checkFreeName(name); err != nil {
		return nil, err
	}

	path := joinPath(dir.Path(), name)
	id, err := s.descriptors.Create(ctx, NewFileDescriptor(timestamp(s.clock)))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	fr, err := s.doc.Tree.CreateFileRef(dir, name, id)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, path); err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	s.logger.Info("empty file created", "path", path)
	return fr, nil
}

// DeleteFile removes fr, or only one of its versions when versionID is
// set. Deleting the last version leaves an empty file behind.
func (s *Service) DeleteFile(ctx context.Context, fr *FileRef, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return err
	}
	if _, err := s.doc.Tree.checkFileRef(fr); err != nil {
		return err
	}
	path := fr.Path()

	if versionID == "" {
		if err := s.doc.Tree.RemoveFileRef(fr); err != nil {
			return err
		}
		if err := s.commit(ctx, path); err != nil {
			return fmt.Errorf("deleting %s: %w", path, err)
		}
		s.logger.Info("file deleted", "path", path)
		return nil
	}

	fd, err := s.descriptors.Fetch(ctx, fr.MessageID())
	if err != nil {
		return fmt.Errorf("deleting version %s of %s: %w", versionID, path, err)
	}
	if err := fd.DeleteVersion(versionID); err != nil {
		return err
	}
	if err := s.storeDescriptor(ctx, fr, fd); err != nil {
		return fmt.Errorf("deleting version %s of %s: %w", versionID, path, err)
	}

	s.logger.Info("file version deleted", "path", path, "version", versionID, "remaining", len(fd.Versions))
	return nil
}

// CopyFile adds a file ref in dir pointing at the same descriptor as fr.
// No content is copied, so later uploads to either name are visible
// through both. An empty newName keeps fr's name.
func (s *Service) CopyFile(ctx context.Context, dir *Directory, fr *FileRef, newName string) (*FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	if _, err := s.doc.Tree.checkFileRef(fr); err != nil {
		return nil, err
	}
	dir, err := s.resolveDir(dir)
	if err != nil {
		return nil, err
	}
	if newName == "" {
		newName = fr.Name()
	}

	cp, err := s.doc.Tree.CreateFileRef(dir, newName, fr.MessageID())
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, cp.Path()); err != nil {
		return nil, fmt.Errorf("copying %s to %s: %w", fr.Path(), cp.Path(), err)
	}

	s.logger.Info("file copied", "from", fr.Path(), "to", cp.Path())
	return cp, nil
}

// RenameFile renames fr within its directory.
func (s *Service) RenameFile(ctx context.Context, fr *FileRef, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return err
	}
	if _, err := s.doc.Tree.checkFileRef(fr); err != nil {
		return err
	}

	oldPath := fr.Path()
	if err := s.doc.Tree.RenameFile(fr, newName); err != nil {
		return err
	}
	if err := s.commit(ctx, oldPath, fr.Path()); err != nil {
		return fmt.Errorf("renaming %s: %w", oldPath, err)
	}

	s.logger.Info("file renamed", "from", oldPath, "to", fr.Path())
	return nil
}

// MoveFile moves fr into dir under newName (fr's name when empty) with a
// single metadata write. The returned ref replaces fr.
func (s *Service) MoveFile(ctx context.Context, fr *FileRef, dir *Directory, newName string) (*FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	if _, err := s.doc.Tree.checkFileRef(fr); err != nil {
		return nil, err
	}
	dir, err := s.resolveDir(dir)
	if err != nil {
		return nil, err
	}
	if newName == "" {
		newName = fr.Name()
	}
	if dir == fr.Directory() {
		oldPath := fr.Path()
		if err := s.doc.Tree.RenameFile(fr, newName); err != nil {
			return nil, err
		}
		if err := s.commit(ctx, oldPath, fr.Path()); err != nil {
			return nil, fmt.Errorf("moving %s: %w", oldPath, err)
		}
		s.logger.Info("file moved", "from", oldPath, "to", fr.Path())
		return fr, nil
	}

	oldPath := fr.Path()
	moved, err := s.doc.Tree.CreateFileRef(dir, newName, fr.MessageID())
	if err != nil {
		return nil, err
	}
	if err := s.doc.Tree.RemoveFileRef(fr); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, oldPath, moved.Path()); err != nil {
		return nil, fmt.Errorf("moving %s: %w", oldPath, err)
	}

	s.logger.Info("file moved", "from", oldPath, "to", moved.Path())
	return moved, nil
}
