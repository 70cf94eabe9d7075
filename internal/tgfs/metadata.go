package tgfs

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MetadataFileName is the attachment name of the control message.
const MetadataFileName = "metadata.json"

// DirectoryObject is the serialized form of a directory and everything
// below it. Children are sorted by name.
type DirectoryObject struct {
	Name        string            `json:"name"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Directories []DirectoryObject `json:"directories"`
	Files       []FileRefObject   `json:"files"`
}

// FileRefObject is the serialized form of a file ref.
type FileRefObject struct {
	Name      string    `json:"name"`
	MessageID MessageID `json:"messageId"`
}

// MetadataDocument is the whole persisted state: the tree plus the id of
// the control message it lives in (zero until first persisted).
type MetadataDocument struct {
	Tree      *Tree
	MessageID MessageID
}

type metadataWire struct {
	Root      DirectoryObject `json:"root"`
	MessageID MessageID       `json:"messageId,omitempty"`
}

// NewMetadataDocument returns a document with an empty root and no
// control message.
func NewMetadataDocument(idgen IDGenerator, clock Clock) *MetadataDocument {
	return &MetadataDocument{Tree: NewTree(idgen, clock)}
}

// Encode serializes the document.
func (m *MetadataDocument) Encode() ([]byte, error) {
	data, err := json.Marshal(metadataWire{Root: m.Tree.Snapshot(), MessageID: m.MessageID})
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata reads a serialized document and builds its tree.
func DecodeMetadata(r io.Reader, idgen IDGenerator, clock Clock) (*MetadataDocument, error) {
	wire, err := decodeMetadataWire(r)
	if err != nil {
		return nil, err
	}
	doc := NewMetadataDocument(idgen, clock)
	doc.Tree.Apply(wire.Root)
	doc.MessageID = wire.MessageID
	return doc, nil
}

func decodeMetadataWire(r io.Reader) (metadataWire, error) {
	var wire metadataWire
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return metadataWire{}, fmt.Errorf("decoding metadata: %w", err)
	}
	if wire.Root.Name == "" {
		wire.Root.Name = RootName
	}
	return wire, nil
}

// Snapshot returns the serializable form of the whole tree.
func (t *Tree) Snapshot() DirectoryObject {
	return t.Root().snapshot()
}

func (d *Directory) snapshot() DirectoryObject {
	obj := DirectoryObject{
		Name:        d.name,
		CreatedAt:   d.createdAt,
		UpdatedAt:   d.updatedAt,
		Directories: []DirectoryObject{},
		Files:       []FileRefObject{},
	}
	for _, child := range d.Children() {
		obj.Directories = append(obj.Directories, child.snapshot())
	}
	for _, fr := range d.Files() {
		obj.Files = append(obj.Files, FileRefObject{Name: fr.name, MessageID: fr.messageID})
	}
	return obj
}

// Apply makes the tree match obj. Existing directories and file refs are
// kept (and so remain valid handles) wherever obj still names them;
// everything else is detached or created. Entries whose name fails
// validation or collides with a sibling directory are skipped.
func (t *Tree) Apply(obj DirectoryObject) {
	t.Root().apply(obj)
	t.prune()
}

func (d *Directory) apply(obj DirectoryObject) {
	t := d.tree
	d.name = obj.Name
	d.createdAt = obj.CreatedAt
	d.updatedAt = obj.UpdatedAt

	wantDirs := make(map[string]DirectoryObject, len(obj.Directories))
	for _, child := range obj.Directories {
		if ValidateName(child.Name) != nil {
			continue
		}
		wantDirs[child.Name] = child
	}
	wantFiles := make(map[string]MessageID, len(obj.Files))
	for _, f := range obj.Files {
		if _, isDir := wantDirs[f.Name]; isDir || ValidateName(f.Name) != nil {
			continue
		}
		wantFiles[f.Name] = f.MessageID
	}

	// Removals first so a name can switch between file and directory.
	var staleDirs []string
	d.children.Scan(func(name string, _ string) bool {
		if _, ok := wantDirs[name]; !ok {
			staleDirs = append(staleDirs, name)
		}
		return true
	})
	for _, name := range staleDirs {
		d.children.Delete(name)
	}
	var staleFiles []string
	d.files.Scan(func(name string, _ *FileRef) bool {
		if _, ok := wantFiles[name]; !ok {
			staleFiles = append(staleFiles, name)
		}
		return true
	})
	for _, name := range staleFiles {
		d.files.Delete(name)
	}

	for name, id := range wantFiles {
		if fr, ok := d.files.Get(name); ok {
			fr.messageID = id
			continue
		}
		d.files.Set(name, &FileRef{tree: t, name: name, messageID: id, dirID: d.id})
	}
	for name, childObj := range wantDirs {
		var child *Directory
		if id, ok := d.children.Get(name); ok {
			child = t.dirs[id]
		}
		if child == nil {
			child = t.newDirectory(name, d.id, childObj.CreatedAt)
			d.children.Set(name, child.id)
		}
		child.apply(childObj)
	}
}

