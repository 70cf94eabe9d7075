package tgfs

import (
	"sort"
	"strings"
	"time"
)

// TouchSet holds the absolute paths a process has mutated since its last
// successful persist. A touched path claims itself and everything below it.
type TouchSet map[string]struct{}

// Add records path as touched.
func (s TouchSet) Add(paths ...string) {
	for _, p := range paths {
		s[cleanPath(p)] = struct{}{}
	}
}

// covers reports whether path is a touched path or lies below one.
func (s TouchSet) covers(path string) bool {
	for t := range s {
		if t == "/" || t == path || strings.HasPrefix(path, t+"/") {
			return true
		}
	}
	return false
}

// leadsTo reports whether some touched path lies strictly below path.
func (s TouchSet) leadsTo(path string) bool {
	for t := range s {
		if path == "/" && t != "/" {
			return true
		}
		if strings.HasPrefix(t, path+"/") {
			return true
		}
	}
	return false
}

func cleanPath(p string) string {
	segs := splitPath(p)
	if len(segs) == 0 {
		return "/"
	}
	return "/" + strings.Join(segs, "/")
}

// Reconcile merges the remote snapshot with the local one. The rule is
// local-wins-on-touched-node: anything at or below a touched path is taken
// from local as is (including its absence), directories on the way to a
// touched path are merged child by child, and everything else is taken
// from remote, which imports entries added by other writers and drops
// entries they removed. A nil remote means nothing was persisted yet.
func Reconcile(remote *DirectoryObject, local DirectoryObject, touched TouchSet) DirectoryObject {
	if remote == nil {
		return local
	}
	return reconcileDir("/", *remote, local, touched)
}

func reconcileDir(path string, remote, local DirectoryObject, touched TouchSet) DirectoryObject {
	if touched.covers(path) {
		return local
	}
	if !touched.leadsTo(path) {
		return remote
	}

	out := DirectoryObject{
		Name:        local.Name,
		CreatedAt:   remote.CreatedAt,
		UpdatedAt:   latest(remote.UpdatedAt, local.UpdatedAt),
		Directories: []DirectoryObject{},
		Files:       []FileRefObject{},
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}

	remoteDirs, remoteFiles := indexChildren(remote)
	localDirs, localFiles := indexChildren(local)

	names := make(map[string]struct{})
	for _, m := range []map[string]DirectoryObject{remoteDirs, localDirs} {
		for n := range m {
			names[n] = struct{}{}
		}
	}
	for _, m := range []map[string]FileRefObject{remoteFiles, localFiles} {
		for n := range m {
			names[n] = struct{}{}
		}
	}

	for name := range names {
		childPath := joinPath(path, name)
		switch {
		case touched.covers(childPath):
			takeChild(&out, name, localDirs, localFiles)
		case touched.leadsTo(childPath):
			ld, lok := localDirs[name]
			rd, rok := remoteDirs[name]
			switch {
			case lok && rok:
				out.Directories = append(out.Directories, reconcileDir(childPath, rd, ld, touched))
			case lok:
				out.Directories = append(out.Directories, ld)
			default:
				takeChild(&out, name, remoteDirs, remoteFiles)
			}
		default:
			takeChild(&out, name, remoteDirs, remoteFiles)
		}
	}

	sort.Slice(out.Directories, func(i, j int) bool { return out.Directories[i].Name < out.Directories[j].Name })
	sort.Slice(out.Files, func(i, j int) bool { return out.Files[i].Name < out.Files[j].Name })
	return out
}

// LocalOnlyPaths returns the topmost paths present in local but not in
// remote.
func LocalOnlyPaths(remote, local DirectoryObject) []string {
	var out []string
	var walk func(path string, remote, local DirectoryObject)
	walk = func(path string, remote, local DirectoryObject) {
		remoteDirs, remoteFiles := indexChildren(remote)
		for _, d := range local.Directories {
			childPath := joinPath(path, d.Name)
			if rd, ok := remoteDirs[d.Name]; ok {
				walk(childPath, rd, d)
			} else if _, ok := remoteFiles[d.Name]; !ok {
				out = append(out, childPath)
			}
		}
		for _, f := range local.Files {
			_, isDir := remoteDirs[f.Name]
			_, isFile := remoteFiles[f.Name]
			if !isDir && !isFile {
				out = append(out, joinPath(path, f.Name))
			}
		}
	}
	walk("/", remote, local)
	return out
}

// takeChild copies the entry called name from one side into out. A
// directory shadows a file of the same name.
func takeChild(out *DirectoryObject, name string, dirs map[string]DirectoryObject, files map[string]FileRefObject) {
	if d, ok := dirs[name]; ok {
		out.Directories = append(out.Directories, d)
		return
	}
	if f, ok := files[name]; ok {
		out.Files = append(out.Files, f)
	}
}

func indexChildren(d DirectoryObject) (map[string]DirectoryObject, map[string]FileRefObject) {
	dirs := make(map[string]DirectoryObject, len(d.Directories))
	for _, c := range d.Directories {
		dirs[c.Name] = c
	}
	files := make(map[string]FileRefObject, len(d.Files))
	for _, f := range d.Files {
		files[f.Name] = f
	}
	return dirs, files
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
