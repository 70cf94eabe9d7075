package messagestore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"tgfs-go/internal/tgfs"
)

// FileSystemStore is a MessageStore keeping one file per message:
//
//	<root>/
//	  messages/
//	    <id>        (attachment bytes)
//	  next_id       (allocation hint)
//	  pinned        (pinned ids, most recent first, one per line)
//
// Ids are claimed with O_EXCL so several processes can share a root.
type FileSystemStore struct {
	name        string
	root        string
	messagesDir string
	maxSize     int64
	mu          sync.Mutex
}

var _ tgfs.MessageStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a filesystem store rooted at the given path.
func NewFileSystemStore(name, root string, maxSize int64) (*FileSystemStore, error) {
	messagesDir := filepath.Join(root, "messages")
	if err := os.MkdirAll(messagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create messages directory: %w", err)
	}

	return &FileSystemStore{
		name:        name,
		root:        root,
		messagesDir: messagesDir,
		maxSize:     maxSize,
	}, nil
}

func (s *FileSystemStore) messagePath(id tgfs.MessageID) string {
	return filepath.Join(s.messagesDir, id.String())
}

func (s *FileSystemStore) checkSize(size int64) error {
	if s.maxSize > 0 && size > s.maxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", tgfs.ErrAttachmentTooLarge, size, s.maxSize)
	}
	return nil
}

// SendAttachment claims the next free id and writes the attachment.
func (s *FileSystemStore) SendAttachment(ctx context.Context, name string, r io.Reader, size int64) (tgfs.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.checkSize(size); err != nil {
		return 0, err
	}

	id, err := s.claimID()
	if err != nil {
		return 0, err
	}
	if err := s.writeFile(s.messagePath(id), r, size); err != nil {
		os.Remove(s.messagePath(id))
		return 0, err
	}
	return id, nil
}

// EditAttachment atomically replaces an existing message's attachment.
func (s *FileSystemStore) EditAttachment(ctx context.Context, id tgfs.MessageID, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkSize(size); err != nil {
		return err
	}
	if _, err := os.Stat(s.messagePath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
		}
		return fmt.Errorf("failed to stat message: %w", err)
	}
	return s.writeFile(s.messagePath(id), r, size)
}

// DownloadAttachment opens the message file.
func (s *FileSystemStore) DownloadAttachment(ctx context.Context, id tgfs.MessageID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.messagePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
		}
		return nil, fmt.Errorf("failed to open message: %w", err)
	}
	return f, nil
}

// Pin moves id to the front of the pinned list.
func (s *FileSystemStore) Pin(ctx context.Context, id tgfs.MessageID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.messagePath(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", tgfs.ErrMessageNotFound, id)
		}
		return fmt.Errorf("failed to stat message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pinned, err := s.readPinned()
	if err != nil {
		return err
	}
	pinned = prependUnique(pinned, id)

	var buf bytes.Buffer
	for _, p := range pinned {
		fmt.Fprintln(&buf, p.String())
	}
	return s.writeFile(filepath.Join(s.root, "pinned"), &buf, int64(buf.Len()))
}

// ListPinned returns pinned ids, most recent first.
func (s *FileSystemStore) ListPinned(ctx context.Context) ([]tgfs.MessageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPinned()
}

// Close is a no-op.
func (s *FileSystemStore) Close() error {
	return nil
}

func (s *FileSystemStore) readPinned() ([]tgfs.MessageID, error) {
	f, err := os.Open(filepath.Join(s.root, "pinned"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open pinned list: %w", err)
	}
	defer f.Close()

	var ids []tgfs.MessageID
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing pinned id %q: %w", line, err)
		}
		ids = append(ids, tgfs.MessageID(n))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading pinned list: %w", err)
	}
	return ids, nil
}

// claimID reserves a fresh id by exclusively creating its message file.
func (s *FileSystemStore) claimID() (tgfs.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hintPath := filepath.Join(s.root, "next_id")
	next := int64(1)
	if data, err := os.ReadFile(hintPath); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil && n > 0 {
			next = n
		}
	}

	for {
		id := tgfs.MessageID(next)
		f, err := os.OpenFile(s.messagePath(id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			f.Close()
			if err := os.WriteFile(hintPath, []byte(strconv.FormatInt(next+1, 10)), 0644); err != nil {
				return 0, fmt.Errorf("writing id hint: %w", err)
			}
			return id, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("claiming message id: %w", err)
		}
		next++
	}
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
func (s *FileSystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
