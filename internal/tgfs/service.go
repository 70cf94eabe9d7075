package tgfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	PartSize            int
	DescriptorCacheSize int
}

// Service is the file store. It owns the in-memory metadata document and
// keeps it in step with the control message pinned in the message store.
//
// Every method takes the service mutex, so operations issued from several
// goroutines are serialized. Directory and FileRef handles returned by the
// service must only be passed back to the same service.
type Service struct {
	mu          sync.Mutex
	store       MessageStore
	descriptors *DescriptorStore
	transfer    *Transfer
	logger      Logger
	clock       Clock
	idgen       IDGenerator

	doc        *MetadataDocument
	dirty      TouchSet
	pinPending bool
}

// NewService creates a Service on top of store. Call Init before use.
func NewService(store MessageStore, logger Logger, clock Clock, idgen IDGenerator, opts Options) (*Service, error) {
	descriptors, err := NewDescriptorStore(store, opts.DescriptorCacheSize, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:       store,
		descriptors: descriptors,
		transfer:    NewTransfer(store, opts.PartSize, logger),
		logger:      logger,
		clock:       clock,
		idgen:       idgen,
		dirty:       TouchSet{},
	}, nil
}

// Init loads the metadata document from the pinned control message. With
// nothing pinned, the service starts from an empty root that is persisted
// by the first mutation.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc != nil {
		return fmt.Errorf("%w: service already initialized", ErrInvalidState)
	}

	remote, id, err := s.fetchRemote(ctx)
	if err != nil {
		return fmt.Errorf("loading metadata: %w", err)
	}

	doc := NewMetadataDocument(s.idgen, s.clock)
	if remote != nil {
		doc.Tree.Apply(*remote)
		doc.MessageID = id
		s.logger.Info("metadata loaded", "message_id", id)
	} else {
		s.logger.Info("no metadata found, starting empty")
	}
	s.doc = doc
	return nil
}

func (s *Service) requireLoaded() error {
	if s.doc == nil {
		return fmt.Errorf("%w: service not initialized", ErrInvalidState)
	}
	return nil
}

// resolveDir defaults a nil directory to the root and checks it still
// belongs to the tree.
func (s *Service) resolveDir(d *Directory) (*Directory, error) {
	if d == nil {
		return s.doc.Tree.Root(), nil
	}
	if err := s.doc.Tree.checkAttached(d); err != nil {
		return nil, err
	}
	return d, nil
}

// MessageID returns the id of the control message, zero if the document
// was never persisted.
func (s *Service) MessageID() MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return 0
	}
	return s.doc.MessageID
}

// RootDirectory returns the root directory.
func (s *Service) RootDirectory() (*Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	return s.doc.Tree.Root(), nil
}

// Navigate resolves a slash separated directory path from the root.
func (s *Service) Navigate(path string) (*Directory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	return s.doc.Tree.Navigate(path)
}

// Lookup resolves path to a directory or a file ref.
func (s *Service) Lookup(path string) (*Directory, *FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, nil, err
	}
	return s.doc.Tree.Lookup(path)
}

// Entry is one item of a directory listing. Exactly one of Directory and
// File is set.
type Entry struct {
	Name      string
	Directory *Directory
	File      *FileRef
}

// List returns the contents of dir: subdirectories first, then files,
// each sorted by name.
func (s *Service) List(dir *Directory) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	dir, err := s.resolveDir(dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, d := range dir.Children() {
		entries = append(entries, Entry{Name: d.Name(), Directory: d})
	}
	for _, f := range dir.Files() {
		entries = append(entries, Entry{Name: f.Name(), File: f})
	}
	return entries, nil
}

// GetFileDesc returns the descriptor fr points at.
func (s *Service) GetFileDesc(ctx context.Context, fr *FileRef) (*FileDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLoaded(); err != nil {
		return nil, err
	}
	if _, err := s.doc.Tree.checkFileRef(fr); err != nil {
		return nil, err
	}
	return s.descriptors.Get(ctx, fr.MessageID())
}

// DownloadLatestVersion streams the latest version of fr. An empty file
// yields an empty reader. The caller must close the reader.
func (s *Service) DownloadLatestVersion(ctx context.Context, fr *FileRef, displayName string) (io.ReadCloser, error) {
	fd, err := s.GetFileDesc(ctx, fr)
	if err != nil {
		return nil, err
	}
	latest := fd.Latest()
	if latest == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	s.logger.Debug("download started", "name", displayName, "version", latest.ID, "size", latest.Size)
	return s.transfer.Download(ctx, displayName, latest.Parts), nil
}

// DownloadVersion streams a specific version, latest or not. The caller
// must close the reader.
func (s *Service) DownloadVersion(ctx context.Context, v *FileVersion, displayName string) io.ReadCloser {
	s.logger.Debug("download started", "name", displayName, "version", v.ID, "size", v.Size)
	return s.transfer.Download(ctx, displayName, v.Parts)
}
