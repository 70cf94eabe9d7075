package fs

import "io/fs"

// Path is a validated local path with the stat info captured when it was
// resolved.
type Path struct {
	absPath string
	isDir   bool
	info    fs.FileInfo
}

// NewPath creates a Path from its components.
func NewPath(absPath string, isDir bool, info fs.FileInfo) *Path {
	return &Path{absPath: absPath, isDir: isDir, info: info}
}

// String returns the absolute path as a string.
func (p *Path) String() string {
	return p.absPath
}

// IsDir returns true if this path points to a directory.
func (p *Path) IsDir() bool {
	return p.isDir
}

// Info returns the cached file info from when the path was resolved.
func (p *Path) Info() fs.FileInfo {
	return p.info
}
