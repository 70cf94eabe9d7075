package tgfs

import (
	"context"
	"fmt"
)

// CreateDirectory creates a directory named name under parent (the root
// when parent is nil) and persists the tree.
func (s *Service) CreateDirectory(ctx context.Context, name string, parent *Directory) (*Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	parent, err := s.resolveDir(parent)
	if err != nil {
		return nil, err
	}

	d, err := s.doc.Tree.CreateDirectory(parent, name)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, d.Path()); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", d.Path(), err)
	}

	s.logger.Info("directory created", "path", d.Path())
	return d, nil
}

// DeleteDirectory removes d and everything below it. The root cannot be
// deleted; use ClearDirectory.
func (s *Service) DeleteDirectory(ctx context.Context, d *Directory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return err
	}
	if err := s.doc.Tree.checkAttached(d); err != nil {
		return err
	}

	path := d.Path()
	if err := s.doc.Tree.DeleteDirectory(d); err != nil {
		return err
	}
	if err := s.commit(ctx, path); err != nil {
		return fmt.Errorf("deleting directory %s: %w", path, err)
	}

	s.logger.Info("directory deleted", "path", path)
	return nil
}

// ClearDirectory removes every subdirectory and file of d, which may be
// the root.
func (s *Service) ClearDirectory(ctx context.Context, d *Directory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return err
	}
	d, err := s.resolveDir(d)
	if err != nil {
		return err
	}

	path := d.Path()
	if err := s.doc.Tree.Clear(d); err != nil {
		return err
	}
	if err := s.commit(ctx, path); err != nil {
		return fmt.Errorf("clearing directory %s: %w", path, err)
	}

	s.logger.Info("directory cleared", "path", path)
	return nil
}
