package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// OSFilesystem reads uploads from and writes downloads to the local disk.
type OSFilesystem struct{}

// NewOSFilesystem creates a filesystem that operates on the real disk.
func NewOSFilesystem() *OSFilesystem {
	return &OSFilesystem{}
}

// Resolve validates a raw path and returns a Path object. Only regular
// files and directories are accepted.
func (m *OSFilesystem) Resolve(rawPath string) (*Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeDevice != 0:
		return nil, fmt.Errorf("device files not supported: %s", absPath)
	case mode&os.ModeNamedPipe != 0:
		return nil, fmt.Errorf("named pipes not supported: %s", absPath)
	case mode&os.ModeSocket != 0:
		return nil, fmt.Errorf("sockets not supported: %s", absPath)
	}

	return NewPath(absPath, info.IsDir(), info), nil
}

// Open opens a file for reading.
func (m *OSFilesystem) Open(path *Path) (io.ReadCloser, error) {
	if path.IsDir() {
		return nil, fmt.Errorf("cannot open directory as file: %s", path.String())
	}
	return os.Open(path.String())
}

// WriteFile copies r into destPath through a temp file and rename, so an
// interrupted download never leaves a partial file behind. Parent
// directories are created as needed.
func (m *OSFilesystem) WriteFile(destPath string, r io.Reader) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tgfs-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
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
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

// FindFiles lists regular files under root, relative to root and using
// forward slashes. Ignored files are skipped, and so are ignored
// directories together with their contents.
func (m *OSFilesystem) FindFiles(root *Path, recursive bool, ignore *IgnoreMatcher) ([]string, error) {
	if !root.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root.String())
	}

	var files []string
	err := filepath.WalkDir(root.String(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root.String() {
			return nil
		}
		rel, err := filepath.Rel(root.String(), p)
		if err != nil {
			return err
		}
		if ignore != nil && ignore.Match(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return files, nil
}
