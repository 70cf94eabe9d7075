package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tgfs-go/internal/config"
	"tgfs-go/internal/testutil"
	"tgfs-go/internal/tgfs"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig(t.TempDir())
	cfg.Encryption.Type = "test"
	cfg.Transfer.PartSize = 4
	return cfg
}

func openTestApp(t *testing.T, cfg *config.Config, idPrefix string) *TGFSApp {
	t.Helper()
	a, err := newTGFSApp(context.Background(), cfg, "Test", nil, func() (string, error) { return "pw", nil }, runtime{
		clock:  testutil.FixedClock(),
		idgen:  testutil.NewPrefixedIDGenerator(idPrefix),
		stderr: io.Discard,
	})
	if err != nil {
		t.Fatalf("newTGFSApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func writeLocal(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return p
}

func names(entries []ListEntry) string {
	var out []string
	for _, e := range entries {
		n := e.Name
		if e.IsDir {
			n += "/"
		}
		out = append(out, n)
	}
	return strings.Join(out, " ")
}

func TestTGFSApp_PutGet(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	a := openTestApp(t, cfg, "a")
	local := t.TempDir()

	src := writeLocal(t, local, "report.txt", "first content")
	if _, err := a.MakeDirectory(ctx, "/docs", false); err != nil {
		t.Fatalf("MakeDirectory() error = %v", err)
	}
	if n, err := a.Put(ctx, src, "/docs", false, ""); err != nil || n != 1 {
		t.Fatalf("Put() = %d, %v", n, err)
	}
	writeLocal(t, local, "report.txt", "second")
	if _, err := a.Put(ctx, src, "/docs/report.txt", false, ""); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	entries, err := a.List(ctx, "/docs", true)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Size != 6 || entries[0].Versions != 2 {
		t.Fatalf("List() = %+v", entries)
	}

	out := t.TempDir()
	n, err := a.Get(ctx, "/docs/report.txt", out, "")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(out, "report.txt"))
	if n != 6 || string(got) != "second" {
		t.Errorf("Get() wrote %d bytes %q", n, got)
	}

	fd, err := a.Versions(ctx, "/docs/report.txt")
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	var oldID string
	for id, v := range fd.Versions {
		if v.Size == int64(len("first content")) {
			oldID = id
		}
	}
	dest := filepath.Join(out, "old.txt")
	if _, err := a.Get(ctx, "/docs/report.txt", dest, oldID); err != nil {
		t.Fatalf("Get(version) error = %v", err)
	}
	if got, _ := os.ReadFile(dest); string(got) != "first content" {
		t.Errorf("old version = %q", got)
	}

	if _, err := a.Get(ctx, "/docs/report.txt", dest, "missing"); !errors.Is(err, tgfs.ErrNotFound) {
		t.Errorf("Get(unknown version) error = %v, want ErrNotFound", err)
	}
	if _, err := a.Get(ctx, "/docs", dest, ""); !errors.Is(err, tgfs.ErrInvalidOperation) {
		t.Errorf("Get(directory) error = %v, want ErrInvalidOperation", err)
	}
}

func TestTGFSApp_PutRecursive(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.Filesystem.Ignore = []string{"*.log"}
	a := openTestApp(t, cfg, "a")

	local := t.TempDir()
	writeLocal(t, local, "a.txt", "a")
	writeLocal(t, local, "debug.log", "x")
	writeLocal(t, local, "sub/b.txt", "bb")
	writeLocal(t, local, "sub/cache/c.txt", "c")
	writeLocal(t, local, ".tgfsignore", "cache/\n")

	if _, err := a.Put(ctx, local, "/backup", false, ""); !errors.Is(err, tgfs.ErrInvalidOperation) {
		t.Fatalf("Put(dir) without recursive error = %v, want ErrInvalidOperation", err)
	}

	n, err := a.Put(ctx, local, "/backup/2024", true, "")
	if err != nil {
		t.Fatalf("Put(-r) error = %v", err)
	}
	if n != 2 {
		t.Errorf("uploaded %d files, want 2", n)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/", "backup/"},
		{"/backup/2024", "sub/ a.txt"},
		{"/backup/2024/sub", "b.txt"},
	}
	for _, tt := range tests {
		entries, err := a.List(ctx, tt.path, false)
		if err != nil {
			t.Fatalf("List(%s) error = %v", tt.path, err)
		}
		if got := names(entries); got != tt.want {
			t.Errorf("List(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}

	// A second run adds versions instead of failing on existing names.
	if _, err := a.Put(ctx, local, "/backup/2024", true, ""); err != nil {
		t.Fatalf("repeated Put(-r) error = %v", err)
	}
	fd, err := a.Versions(ctx, "/backup/2024/sub/b.txt")
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(fd.Versions) != 2 {
		t.Errorf("versions = %d, want 2", len(fd.Versions))
	}
}

func TestTGFSApp_MakeDirectory(t *testing.T) {
	ctx := context.Background()
	a := openTestApp(t, newTestConfig(t), "a")

	tests := []struct {
		name    string
		path    string
		parents bool
		wantErr error
	}{
		{name: "missing parent", path: "/x/y", wantErr: tgfs.ErrNotFound},
		{name: "with parents", path: "/x/y", parents: true},
		{name: "parents tolerates existing", path: "/x/y", parents: true},
		{name: "existing without parents", path: "/x", wantErr: tgfs.ErrNameConflict},
		{name: "root", path: "/", wantErr: tgfs.ErrInvalidOperation},
		{name: "invalid name", path: "/x/-bad", wantErr: tgfs.ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := a.MakeDirectory(ctx, tt.path, tt.parents)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("MakeDirectory() error = %v", err)
			}
			if d.Path() != tt.path {
				t.Errorf("Path() = %q, want %q", d.Path(), tt.path)
			}
		})
	}
}

func TestTGFSApp_RemoveCopyMove(t *testing.T) {
	ctx := context.Background()
	a := openTestApp(t, newTestConfig(t), "a")
	src := writeLocal(t, t.TempDir(), "f.txt", "payload")

	if _, err := a.MakeDirectory(ctx, "/d1/d2", true); err != nil {
		t.Fatalf("MakeDirectory() error = %v", err)
	}
	if _, err := a.Put(ctx, src, "/d1/f.txt", false, ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, err := a.Copy(ctx, "/d1/f.txt", "/d1/d2"); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if _, err := a.Copy(ctx, "/d1/f.txt", "/d1/d2/f.txt"); !errors.Is(err, tgfs.ErrNameConflict) {
		t.Errorf("Copy() onto existing error = %v, want ErrNameConflict", err)
	}
	if _, err := a.Move(ctx, "/d1/f.txt", "/moved.txt"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}

	entries, _ := a.List(ctx, "/", false)
	if got := names(entries); got != "d1/ moved.txt" {
		t.Errorf("root = %q", got)
	}
	entries, _ = a.List(ctx, "/d1", false)
	if got := names(entries); got != "d2/" {
		t.Errorf("/d1 = %q", got)
	}

	if err := a.Remove(ctx, "/d1", false, ""); !errors.Is(err, tgfs.ErrInvalidOperation) {
		t.Errorf("Remove(dir) without recursive error = %v, want ErrInvalidOperation", err)
	}
	if err := a.Remove(ctx, "/d1", true, ""); err != nil {
		t.Fatalf("Remove(-r) error = %v", err)
	}
	if _, err := a.List(ctx, "/d1/d2", false); !errors.Is(err, tgfs.ErrNotFound) {
		t.Errorf("List(removed) error = %v, want ErrNotFound", err)
	}
	if err := a.Remove(ctx, "/", true, ""); !errors.Is(err, tgfs.ErrInvalidOperation) {
		t.Errorf("Remove(root) error = %v, want ErrInvalidOperation", err)
	}
	if err := a.Remove(ctx, "/moved.txt", false, ""); err != nil {
		t.Fatalf("Remove(file) error = %v", err)
	}
}

func TestTGFSApp_Touch(t *testing.T) {
	ctx := context.Background()
	a := openTestApp(t, newTestConfig(t), "a")

	if err := a.Touch(ctx, "/empty.txt"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if err := a.Touch(ctx, "/empty.txt"); err != nil {
		t.Fatalf("Touch() on existing error = %v", err)
	}

	entries, err := a.List(ctx, "/empty.txt", true)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Versions != 0 || entries[0].Size != 0 {
		t.Errorf("List() = %+v", entries)
	}

	dest := filepath.Join(t.TempDir(), "out")
	if n, err := a.Get(ctx, "/empty.txt", dest, ""); err != nil || n != 0 {
		t.Fatalf("Get(empty) = %d, %v", n, err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("empty download not written: %v", err)
	}
}

func TestTGFSApp_PersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	src := writeLocal(t, t.TempDir(), "notes.md", "# notes")

	first := openTestApp(t, cfg, "a")
	if _, err := first.Put(ctx, src, "/notes.md", false, ""); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	id := first.MessageID()
	if id == 0 {
		t.Fatal("metadata was never persisted")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := openTestApp(t, cfg, "b")
	if second.MessageID() != id {
		t.Errorf("MessageID() = %v, want %v", second.MessageID(), id)
	}
	dest := filepath.Join(t.TempDir(), "notes.md")
	if _, err := second.Get(ctx, "/notes.md", dest, ""); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got, _ := os.ReadFile(dest); string(got) != "# notes" {
		t.Errorf("content = %q", got)
	}

	logData, err := os.ReadFile(filepath.Join(cfg.LogDir, LogFileName))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !bytes.Contains(logData, []byte("metadata persisted")) || !bytes.Contains(logData, []byte("operation finished")) {
		t.Errorf("log file missing expected lines:\n%s", logData)
	}
}

func TestInitConfig_Age(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	cfgPath := filepath.Join(base, "tgfs.toml")
	cfg := config.NewConfig(base)
	cfg.Encryption.Type = "age"
	pass := func() (string, error) { return "correct horse", nil }

	if err := InitConfig(cfgPath, cfg, pass); err != nil {
		t.Fatalf("InitConfig() error = %v", err)
	}
	if err := InitConfig(cfgPath, cfg, pass); err == nil {
		t.Error("second InitConfig() should fail on existing config")
	}
	if _, err := os.Stat(cfg.Encryption.PrivateKeyPath); err != nil {
		t.Fatalf("private key not created: %v", err)
	}

	loaded, err := config.ReadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	a, err := newTGFSApp(ctx, loaded, "Touch", nil, pass, runtime{
		clock:  testutil.FixedClock(),
		idgen:  testutil.NewStubIDGenerator(),
		stderr: io.Discard,
	})
	if err != nil {
		t.Fatalf("newTGFSApp() error = %v", err)
	}
	defer a.Close()

	if err := a.Touch(ctx, "/secret.txt"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	// Stored attachments are ciphertext.
	msgDir := filepath.Join(loaded.Store.FSRoot, "messages")
	files, err := os.ReadDir(msgDir)
	if err != nil || len(files) == 0 {
		t.Fatalf("reading %s: %v (%d files)", msgDir, err, len(files))
	}
	for _, f := range files {
		data, _ := os.ReadFile(filepath.Join(msgDir, f.Name()))
		if bytes.Contains(data, []byte("secret.txt")) {
			t.Errorf("message %s stored in plaintext", f.Name())
		}
	}
}

func TestNewTGFSApp_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("age keys missing", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		cfg.Encryption.Type = "age"
		_, err := newTGFSApp(ctx, cfg, "List", nil, nil, runtime{
			clock: testutil.FixedClock(), idgen: testutil.NewStubIDGenerator(), stderr: io.Discard,
		})
		if err == nil || !strings.Contains(err.Error(), "config init") {
			t.Errorf("error = %v, want hint to run config init", err)
		}
	})

	t.Run("unknown store type", func(t *testing.T) {
		cfg := config.NewConfig(t.TempDir())
		cfg.Store.Type = "carrier-pigeon"
		_, err := newTGFSApp(ctx, cfg, "List", nil, nil, runtime{
			clock: testutil.FixedClock(), idgen: testutil.NewStubIDGenerator(), stderr: io.Discard,
		})
		if err == nil {
			t.Error("expected error for unknown store type")
		}
	})
}
