package tgfs

import (
	"fmt"
	"sort"
	"time"
)

// Part is one transport-sized chunk of a version's content, stored as its
// own message.
type Part struct {
	MessageID MessageID `json:"messageId"`
	Size      int64     `json:"size"`
}

// FileVersion is one content snapshot of a file. Parts are in stream order.
type FileVersion struct {
	ID        string    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Parts     []Part    `json:"parts"`
}

// FileDescriptor is the versioned content record for one file identity.
// It is persisted as its own message; FileRefs point at it by message id.
type FileDescriptor struct {
	Versions        map[string]*FileVersion `json:"versions"`
	LatestVersionID string                  `json:"latestVersionId"`
	CreatedAt       time.Time               `json:"createdAt"`
}

// NewFileDescriptor returns a descriptor with no versions, which is the
// empty-file marker.
func NewFileDescriptor(createdAt time.Time) *FileDescriptor {
	return &FileDescriptor{
		Versions:  make(map[string]*FileVersion),
		CreatedAt: createdAt,
	}
}

// IsEmptyFile reports whether the descriptor has no versions: a zero-byte
// file that was never transferred.
func (fd *FileDescriptor) IsEmptyFile() bool {
	return len(fd.Versions) == 0
}

// Latest returns the latest version, or nil for an empty file.
func (fd *FileDescriptor) Latest() *FileVersion {
	if fd.LatestVersionID == "" {
		return nil
	}
	return fd.Versions[fd.LatestVersionID]
}

// Version returns the version with the given id.
func (fd *FileDescriptor) Version(id string) (*FileVersion, error) {
	v, ok := fd.Versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: version %s", ErrNotFound, id)
	}
	return v, nil
}

// SortedVersions returns all versions, oldest first.
func (fd *FileDescriptor) SortedVersions() []*FileVersion {
	out := make([]*FileVersion, 0, len(fd.Versions))
	for _, v := range fd.Versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return versionBefore(out[i], out[j])
	})
	return out
}

// AddVersion appends v under v.ID and makes it the latest version.
// Version ids are generated by the caller; a collision is a programming error.
func (fd *FileDescriptor) AddVersion(v *FileVersion) error {
	if v.ID == "" {
		return fmt.Errorf("%w: version id is empty", ErrInvalidState)
	}
	if _, exists := fd.Versions[v.ID]; exists {
		return fmt.Errorf("%w: duplicate version id %s", ErrInvalidState, v.ID)
	}
	if fd.Versions == nil {
		fd.Versions = make(map[string]*FileVersion)
	}
	fd.Versions[v.ID] = v
	fd.LatestVersionID = v.ID
	return nil
}

// ReplaceVersion overwrites the content of an existing version. The
// version keeps its id and creation time; which version is latest does not
// change.
func (fd *FileDescriptor) ReplaceVersion(v *FileVersion) error {
	old, ok := fd.Versions[v.ID]
	if !ok {
		return fmt.Errorf("%w: cannot replace missing version %s", ErrInvalidOperation, v.ID)
	}
	v.CreatedAt = old.CreatedAt
	fd.Versions[v.ID] = v
	return nil
}

// DeleteVersion removes a version. If it was the latest, the most recently
// created survivor becomes latest; with no survivors the descriptor becomes
// an empty file.
func (fd *FileDescriptor) DeleteVersion(id string) error {
	if _, ok := fd.Versions[id]; !ok {
		return fmt.Errorf("%w: version %s", ErrNotFound, id)
	}
	delete(fd.Versions, id)
	if fd.LatestVersionID != id {
		return nil
	}

	fd.LatestVersionID = ""
	var newest *FileVersion
	for _, v := range fd.Versions {
		if newest == nil || versionBefore(newest, v) {
			newest = v
		}
	}
	if newest != nil {
		fd.LatestVersionID = newest.ID
	}
	return nil
}

// versionBefore orders versions by creation time, then id, so the result
// is stable when two versions share a timestamp.
func versionBefore(a, b *FileVersion) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// restoreVersionIDs fills FileVersion.ID from the map keys after decoding.
func (fd *FileDescriptor) restoreVersionIDs() {
	if fd.Versions == nil {
		fd.Versions = make(map[string]*FileVersion)
	}
	for id, v := range fd.Versions {
		if v == nil {
			delete(fd.Versions, id)
			continue
		}
		v.ID = id
	}
}
