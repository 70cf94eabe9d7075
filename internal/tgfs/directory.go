package tgfs

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/btree"
)

// RootName is the display name of every tree's root directory.
const RootName = "root"

// Tree is the in-memory directory namespace. Directories live in an arena
// indexed by id and refer to their parent by id, so detaching a subtree is
// a single map removal on the parent. Orphaned descendants stay in the
// arena until the next prune.
//
// Tree has no internal locking; Service serializes access to it.
type Tree struct {
	dirs   map[string]*Directory
	rootID string
	idgen  IDGenerator
	clock  Clock
}

// Directory is one namespace node. Child directories and file refs share
// one namespace: a name is either a directory or a file, never both.
type Directory struct {
	tree      *Tree
	id        string
	name      string
	parentID  string
	children  *btree.Map[string, string] // name -> directory id
	files     *btree.Map[string, *FileRef]
	createdAt time.Time
	updatedAt time.Time
}

// FileRef is a named pointer to a FileDescriptor message. It is owned by
// exactly one directory.
type FileRef struct {
	tree      *Tree
	name      string
	messageID MessageID
	dirID     string
}

// NewTree returns a tree holding only an empty root directory.
func NewTree(idgen IDGenerator, clock Clock) *Tree {
	t := &Tree{
		dirs:  make(map[string]*Directory),
		idgen: idgen,
		clock: clock,
	}
	root := t.newDirectory(RootName, "", timestamp(clock))
	t.rootID = root.id
	return t
}

func (t *Tree) newDirectory(name, parentID string, now time.Time) *Directory {
	d := &Directory{
		tree:      t,
		id:        t.idgen.New(),
		name:      name,
		parentID:  parentID,
		children:  btree.NewMap[string, string](0),
		files:     btree.NewMap[string, *FileRef](0),
		createdAt: now,
		updatedAt: now,
	}
	t.dirs[d.id] = d
	return d
}

// Root returns the root directory.
func (t *Tree) Root() *Directory {
	return t.dirs[t.rootID]
}

// attached reports whether d is still reachable from the root.
func (t *Tree) attached(d *Directory) bool {
	for cur := d; ; {
		if t.dirs[cur.id] != cur {
			return false
		}
		if cur.id == t.rootID {
			return true
		}
		parent, ok := t.dirs[cur.parentID]
		if !ok {
			return false
		}
		if id, ok := parent.children.Get(cur.name); !ok || id != cur.id {
			return false
		}
		cur = parent
	}
}

func (t *Tree) checkAttached(d *Directory) error {
	if d == nil || d.tree != t || !t.attached(d) {
		return fmt.Errorf("%w: directory is no longer part of the tree", ErrNotFound)
	}
	return nil
}

func (t *Tree) checkFileRef(fr *FileRef) (*Directory, error) {
	if fr == nil || fr.tree != t {
		return nil, fmt.Errorf("%w: file is no longer part of the tree", ErrNotFound)
	}
	d, ok := t.dirs[fr.dirID]
	if !ok || !t.attached(d) {
		return nil, fmt.Errorf("%w: file %s is no longer part of the tree", ErrNotFound, fr.name)
	}
	if cur, ok := d.files.Get(fr.name); !ok || cur != fr {
		return nil, fmt.Errorf("%w: file %s is no longer part of the tree", ErrNotFound, fr.name)
	}
	return d, nil
}

// checkFreeName validates name and makes sure no directory or file under
// parent already uses it.
func (d *Directory) checkFreeName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, ok := d.children.Get(name); ok {
		return fmt.Errorf("%w: directory %s already exists in %s", ErrNameConflict, name, d.Path())
	}
	if _, ok := d.files.Get(name); ok {
		return fmt.Errorf("%w: file %s already exists in %s", ErrNameConflict, name, d.Path())
	}
	return nil
}

func (d *Directory) touch(now time.Time) {
	if now.After(d.updatedAt) {
		d.updatedAt = now
	}
}

// CreateDirectory adds an empty directory named name under parent.
func (t *Tree) CreateDirectory(parent *Directory, name string) (*Directory, error) {
	if err := t.checkAttached(parent); err != nil {
		return nil, err
	}
	if err := parent.checkFreeName(name); err != nil {
		return nil, err
	}
	now := timestamp(t.clock)
	d := t.newDirectory(name, parent.id, now)
	parent.children.Set(name, d.id)
	parent.touch(now)
	return d, nil
}

// DeleteDirectory detaches d from its parent. The root cannot be deleted;
// use Clear instead.
func (t *Tree) DeleteDirectory(d *Directory) error {
	if err := t.checkAttached(d); err != nil {
		return err
	}
	if d.id == t.rootID {
		return fmt.Errorf("%w: cannot delete the root directory", ErrInvalidOperation)
	}
	parent := t.dirs[d.parentID]
	parent.children.Delete(d.name)
	delete(t.dirs, d.id)
	parent.touch(timestamp(t.clock))
	return nil
}

// Clear removes every child directory and file ref of d. It is the only
// way to empty the root.
func (t *Tree) Clear(d *Directory) error {
	if err := t.checkAttached(d); err != nil {
		return err
	}
	d.children.Scan(func(_ string, id string) bool {
		delete(t.dirs, id)
		return true
	})
	d.children = btree.NewMap[string, string](0)
	d.files = btree.NewMap[string, *FileRef](0)
	d.touch(timestamp(t.clock))
	return nil
}

// CreateFileRef adds a file ref named name under d pointing at the
// descriptor stored in message id.
func (t *Tree) CreateFileRef(d *Directory, name string, id MessageID) (*FileRef, error) {
	if err := t.checkAttached(d); err != nil {
		return nil, err
	}
	if err := d.checkFreeName(name); err != nil {
		return nil, err
	}
	fr := &FileRef{tree: t, name: name, messageID: id, dirID: d.id}
	d.files.Set(name, fr)
	d.touch(timestamp(t.clock))
	return fr, nil
}

// RemoveFileRef removes fr from its directory.
func (t *Tree) RemoveFileRef(fr *FileRef) error {
	d, err := t.checkFileRef(fr)
	if err != nil {
		return err
	}
	d.files.Delete(fr.name)
	d.touch(timestamp(t.clock))
	return nil
}

// RenameFile gives fr a new name in the same directory. The descriptor
// pointer is unchanged.
func (t *Tree) RenameFile(fr *FileRef, newName string) error {
	d, err := t.checkFileRef(fr)
	if err != nil {
		return err
	}
	if newName == fr.name {
		return nil
	}
	if err := d.checkFreeName(newName); err != nil {
		return err
	}
	d.files.Delete(fr.name)
	fr.name = newName
	d.files.Set(newName, fr)
	d.touch(timestamp(t.clock))
	return nil
}

// SetMessageID repoints fr at a descriptor stored under a new message id.
func (t *Tree) SetMessageID(fr *FileRef, id MessageID) error {
	d, err := t.checkFileRef(fr)
	if err != nil {
		return err
	}
	if fr.messageID == id {
		return nil
	}
	fr.messageID = id
	d.touch(timestamp(t.clock))
	return nil
}

// RefsTo returns every attached file ref pointing at message id, in path
// order.
func (t *Tree) RefsTo(id MessageID) []*FileRef {
	var out []*FileRef
	var walk func(d *Directory)
	walk = func(d *Directory) {
		d.files.Scan(func(_ string, fr *FileRef) bool {
			if fr.messageID == id {
				out = append(out, fr)
			}
			return true
		})
		for _, c := range d.Children() {
			walk(c)
		}
	}
	walk(t.Root())
	return out
}

// Navigate walks a slash separated path from the root. Empty and "."
// segments are skipped. It fails with ErrNotFound at the first missing
// segment.
func (t *Tree) Navigate(path string) (*Directory, error) {
	cur := t.Root()
	for _, seg := range splitPath(path) {
		id, ok := cur.children.Get(seg)
		if !ok {
			return nil, fmt.Errorf("%w: directory %s in %s", ErrNotFound, seg, cur.Path())
		}
		cur = t.dirs[id]
	}
	return cur, nil
}

// Lookup resolves path to either a directory or a file ref. Exactly one of
// the returned pointers is non-nil on success.
func (t *Tree) Lookup(path string) (*Directory, *FileRef, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return t.Root(), nil, nil
	}
	parent, err := t.Navigate(strings.Join(segs[:len(segs)-1], "/"))
	if err != nil {
		return nil, nil, err
	}
	last := segs[len(segs)-1]
	if id, ok := parent.children.Get(last); ok {
		return t.dirs[id], nil, nil
	}
	if fr, ok := parent.files.Get(last); ok {
		return nil, fr, nil
	}
	return nil, nil, fmt.Errorf("%w: %s in %s", ErrNotFound, last, parent.Path())
}

// SplitPath splits a slash separated path into its parent path and final
// name. The parent of a single segment is "/".
func SplitPath(path string) (string, string) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return "/", ""
	}
	return "/" + strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1]
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s == "" || s == "." {
			continue
		}
		segs = append(segs, s)
	}
	return segs
}

// prune drops arena entries that are no longer reachable from the root.
func (t *Tree) prune() {
	live := make(map[string]bool, len(t.dirs))
	var mark func(d *Directory)
	mark = func(d *Directory) {
		live[d.id] = true
		d.children.Scan(func(_ string, id string) bool {
			if child, ok := t.dirs[id]; ok {
				mark(child)
			}
			return true
		})
	}
	mark(t.Root())
	for id := range t.dirs {
		if !live[id] {
			delete(t.dirs, id)
		}
	}
}

// Directory accessors.

func (d *Directory) ID() string           { return d.id }
func (d *Directory) Name() string         { return d.name }
func (d *Directory) IsRoot() bool         { return d.id == d.tree.rootID }
func (d *Directory) CreatedAt() time.Time { return d.createdAt }
func (d *Directory) UpdatedAt() time.Time { return d.updatedAt }

// Parent returns the parent directory, or nil for the root and for
// detached directories.
func (d *Directory) Parent() *Directory {
	if d.IsRoot() {
		return nil
	}
	return d.tree.dirs[d.parentID]
}

// Path returns the absolute slash separated path of d. The root is "/".
func (d *Directory) Path() string {
	var names []string
	for cur := d; cur != nil && !cur.IsRoot(); cur = cur.Parent() {
		names = append(names, cur.name)
	}
	var b strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(names[i])
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// FindChildren resolves names to child directories. The result is aligned
// with names; missing entries are nil.
func (d *Directory) FindChildren(names ...string) []*Directory {
	out := make([]*Directory, len(names))
	for i, name := range names {
		if id, ok := d.children.Get(name); ok {
			out[i] = d.tree.dirs[id]
		}
	}
	return out
}

// FindFiles resolves names to file refs. The result is aligned with names;
// missing entries are nil.
func (d *Directory) FindFiles(names ...string) []*FileRef {
	out := make([]*FileRef, len(names))
	for i, name := range names {
		if fr, ok := d.files.Get(name); ok {
			out[i] = fr
		}
	}
	return out
}

// Children returns the child directories sorted by name.
func (d *Directory) Children() []*Directory {
	out := make([]*Directory, 0, d.children.Len())
	d.children.Scan(func(_ string, id string) bool {
		if child, ok := d.tree.dirs[id]; ok {
			out = append(out, child)
		}
		return true
	})
	return out
}

// Files returns the file refs sorted by name.
func (d *Directory) Files() []*FileRef {
	out := make([]*FileRef, 0, d.files.Len())
	d.files.Scan(func(_ string, fr *FileRef) bool {
		out = append(out, fr)
		return true
	})
	return out
}

// FileRef accessors.

func (fr *FileRef) Name() string         { return fr.name }
func (fr *FileRef) MessageID() MessageID { return fr.messageID }

// Directory returns the directory holding fr.
func (fr *FileRef) Directory() *Directory {
	return fr.tree.dirs[fr.dirID]
}

// Path returns the absolute path of fr.
func (fr *FileRef) Path() string {
	d := fr.Directory()
	if d == nil {
		return "/" + fr.name
	}
	return joinPath(d.Path(), fr.name)
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
