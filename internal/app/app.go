package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"tgfs-go/internal/config"
	"tgfs-go/internal/encryption"
	"tgfs-go/internal/fs"
	"tgfs-go/internal/messagestore"
	"tgfs-go/internal/tgfs"
)

// PassphraseFunc supplies the passphrase protecting the private key. It is
// only called when encryption is enabled.
type PassphraseFunc func() (string, error)

// TGFSApp is the application layer between the CLI and the tgfs Service.
// It builds the message store, encryption and logger from config and
// exposes operations that take raw remote and local path strings.
type TGFSApp struct {
	cfg     *config.Config
	store   tgfs.MessageStore
	fsys    *fs.OSFilesystem
	service *tgfs.Service
	op      *Operation
	clock   tgfs.Clock
	logger  *slog.Logger
	logFile io.Closer
}

// runtime holds the process-level collaborators; tests swap them out.
type runtime struct {
	clock  tgfs.Clock
	idgen  tgfs.IDGenerator
	stderr io.Writer
}

// NewTGFSApp creates a fully wired TGFSApp and loads the metadata
// document. operation and args identify the CLI command in the log.
// The caller must call Close when done.
func NewTGFSApp(ctx context.Context, cfg *config.Config, operation string, args []string, passphrase PassphraseFunc) (*TGFSApp, error) {
	return newTGFSApp(ctx, cfg, operation, args, passphrase, runtime{
		clock:  tgfs.RealClock{},
		idgen:  tgfs.UUIDGenerator{},
		stderr: os.Stderr,
	})
}

func newTGFSApp(ctx context.Context, cfg *config.Config, operation string, args []string, passphrase PassphraseFunc, rt runtime) (*TGFSApp, error) {
	op := NewOperation(operation, args, rt.clock)
	logger, logFile, err := newLogger(cfg.LogDir, cfg.Log, op.ID, rt.stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	store, err := openStore(ctx, cfg, rt.clock, passphrase)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	svc, err := tgfs.NewService(store, &slogAdapter{l: logger}, rt.clock, rt.idgen, tgfs.Options{
		PartSize:            cfg.Transfer.PartSize,
		DescriptorCacheSize: cfg.Cache.Descriptors,
	})
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating service: %w", err)
	}
	if err := svc.Init(ctx); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("loading metadata: %w", err)
	}

	logger.Debug("operation started", "operation", op.Name, "params", op.Parameters(), "store", cfg.Store.Type)
	return &TGFSApp{
		cfg:     cfg,
		store:   store,
		fsys:    fs.NewOSFilesystem(),
		service: svc,
		op:      op,
		clock:   rt.clock,
		logger:  logger,
		logFile: logFile,
	}, nil
}

// openStore builds the configured message store and, when encryption is
// enabled, wraps it in an encrypting store unlocked with the passphrase.
func openStore(ctx context.Context, cfg *config.Config, clock tgfs.Clock, passphrase PassphraseFunc) (tgfs.MessageStore, error) {
	store, err := messagestore.NewMessageStoreFromConfig(ctx, cfg.Store, clock)
	if err != nil {
		return nil, fmt.Errorf("creating message store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return store, nil
	}
	if !enc.IsConfigured() {
		store.Close()
		return nil, fmt.Errorf("encryption keys not found: run 'tgfs config init'")
	}
	if passphrase == nil {
		store.Close()
		return nil, fmt.Errorf("encryption is enabled but no passphrase was provided")
	}

	pass, err := passphrase()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	dec, err := enc.Unlock(pass)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	return encryption.NewStore(store, enc, dec), nil
}

// InitConfig writes a new config file and, when encryption is enabled,
// generates the key pair sealed with the passphrase.
func InitConfig(path string, cfg *config.Config, passphrase PassphraseFunc) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := config.Init(path, cfg); err != nil {
		return err
	}
	if enc == nil || enc.IsConfigured() {
		return nil
	}
	if passphrase == nil {
		return fmt.Errorf("encryption is enabled but no passphrase was provided")
	}
	pass, err := passphrase()
	if err != nil {
		return fmt.Errorf("reading passphrase: %w", err)
	}
	if err := enc.Setup(pass); err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	return nil
}

// Fail records err against the running operation and returns it.
func (a *TGFSApp) Fail(err error) error {
	return a.op.Fail(err)
}

// ListEntry is one line of a listing. Size, Versions and UpdatedAt are
// filled for files only in long listings.
type ListEntry struct {
	Name      string
	IsDir     bool
	Size      int64
	Versions  int
	UpdatedAt time.Time
}

// List lists a remote directory. A file path lists just that file.
func (a *TGFSApp) List(ctx context.Context, remotePath string, long bool) ([]ListEntry, error) {
	dir, fr, err := a.service.Lookup(remotePath)
	if err != nil {
		return nil, err
	}
	if fr != nil {
		e, err := a.fileEntry(ctx, fr, long)
		if err != nil {
			return nil, err
		}
		return []ListEntry{e}, nil
	}

	entries, err := a.service.List(dir)
	if err != nil {
		return nil, err
	}
	out := make([]ListEntry, 0, len(entries))
	for _, e := range entries {
		if e.Directory != nil {
			out = append(out, ListEntry{Name: e.Name, IsDir: true, UpdatedAt: e.Directory.UpdatedAt()})
			continue
		}
		fe, err := a.fileEntry(ctx, e.File, long)
		if err != nil {
			return nil, err
		}
		out = append(out, fe)
	}
	return out, nil
}

func (a *TGFSApp) fileEntry(ctx context.Context, fr *tgfs.FileRef, long bool) (ListEntry, error) {
	e := ListEntry{Name: fr.Name()}
	if !long {
		return e, nil
	}
	fd, err := a.service.GetFileDesc(ctx, fr)
	if err != nil {
		return e, fmt.Errorf("reading %s: %w", fr.Path(), err)
	}
	e.Versions = len(fd.Versions)
	e.UpdatedAt = fd.CreatedAt
	if v := fd.Latest(); v != nil {
		e.Size = v.Size
		e.UpdatedAt = v.UpdatedAt
	}
	return e, nil
}

// MakeDirectory creates a remote directory. With parents, missing
// ancestors are created and an existing directory is not an error.
func (a *TGFSApp) MakeDirectory(ctx context.Context, remotePath string, parents bool) (*tgfs.Directory, error) {
	parentPath, name := tgfs.SplitPath(remotePath)
	if name == "" {
		return nil, fmt.Errorf("%w: cannot create the root directory", tgfs.ErrInvalidOperation)
	}
	if parents {
		root, err := a.service.RootDirectory()
		if err != nil {
			return nil, err
		}
		return a.ensureDirectory(ctx, root, remotePath)
	}
	parent, err := a.service.Navigate(parentPath)
	if err != nil {
		return nil, err
	}
	return a.service.CreateDirectory(ctx, name, parent)
}

// ensureDirectory walks rel below under, creating missing directories.
func (a *TGFSApp) ensureDirectory(ctx context.Context, under *tgfs.Directory, rel string) (*tgfs.Directory, error) {
	cur := under
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if existing := cur.FindChildren(seg)[0]; existing != nil {
			cur = existing
			continue
		}
		next, err := a.service.CreateDirectory(ctx, seg, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// target resolves where a file named defaultName should land for a
// destination path: inside it when it is a directory, otherwise at the
// path itself.
func (a *TGFSApp) target(remotePath, defaultName string) (*tgfs.Directory, string, error) {
	dir, fr, err := a.service.Lookup(remotePath)
	switch {
	case err == nil && dir != nil:
		return dir, defaultName, nil
	case err == nil:
		return fr.Directory(), fr.Name(), nil
	case !errors.Is(err, tgfs.ErrNotFound):
		return nil, "", err
	}

	parentPath, name := tgfs.SplitPath(remotePath)
	parent, err := a.service.Navigate(parentPath)
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}

func (a *TGFSApp) lookupFile(remotePath string) (*tgfs.FileRef, error) {
	_, fr, err := a.service.Lookup(remotePath)
	if err != nil {
		return nil, err
	}
	if fr == nil {
		return nil, fmt.Errorf("%w: %s is a directory", tgfs.ErrInvalidOperation, remotePath)
	}
	return fr, nil
}

// Put uploads a local file or, with recursive, a local directory tree.
// A non-empty versionID replaces that version of a single existing file.
// It returns the number of files uploaded.
func (a *TGFSApp) Put(ctx context.Context, localPath, remotePath string, recursive bool, versionID string) (int, error) {
	src, err := a.fsys.Resolve(localPath)
	if err != nil {
		return 0, fmt.Errorf("resolving %s: %w", localPath, err)
	}

	if !src.IsDir() {
		dir, name, err := a.target(remotePath, filepath.Base(src.String()))
		if err != nil {
			return 0, err
		}
		if err := a.putFile(ctx, src, dir, name, versionID); err != nil {
			return 0, err
		}
		return 1, nil
	}

	if !recursive {
		return 0, fmt.Errorf("%w: %s is a directory (use -r)", tgfs.ErrInvalidOperation, localPath)
	}
	if versionID != "" {
		return 0, fmt.Errorf("%w: a version id applies to a single file", tgfs.ErrInvalidOperation)
	}

	ignore, err := fs.LoadIgnoreMatcher(src.String(), a.cfg.Filesystem.Ignore)
	if err != nil {
		return 0, err
	}
	files, err := a.fsys.FindFiles(src, true, ignore)
	if err != nil {
		return 0, err
	}
	root, err := a.service.RootDirectory()
	if err != nil {
		return 0, err
	}
	base, err := a.ensureDirectory(ctx, root, remotePath)
	if err != nil {
		return 0, err
	}

	uploaded := 0
	for _, rel := range files {
		relDir, name := path.Split(rel)
		dir, err := a.ensureDirectory(ctx, base, relDir)
		if err != nil {
			return uploaded, err
		}
		p, err := a.fsys.Resolve(filepath.Join(src.String(), filepath.FromSlash(rel)))
		if err != nil {
			return uploaded, err
		}
		if err := a.putFile(ctx, p, dir, name, ""); err != nil {
			return uploaded, fmt.Errorf("uploading %s: %w", rel, err)
		}
		uploaded++
	}
	return uploaded, nil
}

func (a *TGFSApp) putFile(ctx context.Context, p *fs.Path, dir *tgfs.Directory, name, versionID string) error {
	f, err := a.fsys.Open(p)
	if err != nil {
		return fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	_, err = a.service.UploadFile(ctx, tgfs.UploadRequest{Name: name, Under: dir, VersionID: versionID}, f)
	return err
}

// Get downloads a remote file to localPath, or into it when localPath is
// an existing directory. An empty versionID selects the latest version.
// It returns the number of bytes written.
func (a *TGFSApp) Get(ctx context.Context, remotePath, localPath, versionID string) (int64, error) {
	fr, err := a.lookupFile(remotePath)
	if err != nil {
		return 0, err
	}

	dest := localPath
	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		dest = filepath.Join(localPath, fr.Name())
	}

	var rc io.ReadCloser
	if versionID == "" {
		rc, err = a.service.DownloadLatestVersion(ctx, fr, fr.Name())
		if err != nil {
			return 0, err
		}
	} else {
		fd, err := a.service.GetFileDesc(ctx, fr)
		if err != nil {
			return 0, err
		}
		v, err := fd.Version(versionID)
		if err != nil {
			return 0, err
		}
		rc = a.service.DownloadVersion(ctx, v, fr.Name())
	}
	defer rc.Close()

	return a.fsys.WriteFile(dest, rc)
}

// Remove deletes a remote file, one version of it, or with recursive a
// whole directory.
func (a *TGFSApp) Remove(ctx context.Context, remotePath string, recursive bool, versionID string) error {
	dir, fr, err := a.service.Lookup(remotePath)
	if err != nil {
		return err
	}
	if fr != nil {
		return a.service.DeleteFile(ctx, fr, versionID)
	}
	if versionID != "" {
		return fmt.Errorf("%w: %s is a directory", tgfs.ErrInvalidOperation, remotePath)
	}
	if !recursive {
		return fmt.Errorf("%w: %s is a directory (use -r)", tgfs.ErrInvalidOperation, remotePath)
	}
	return a.service.DeleteDirectory(ctx, dir)
}

// Copy adds a second name for a remote file. Both names share the same
// version history.
func (a *TGFSApp) Copy(ctx context.Context, srcPath, dstPath string) (*tgfs.FileRef, error) {
	fr, err := a.lookupFile(srcPath)
	if err != nil {
		return nil, err
	}
	dir, name, err := a.target(dstPath, fr.Name())
	if err != nil {
		return nil, err
	}
	return a.service.CopyFile(ctx, dir, fr, name)
}

// Move renames a remote file or moves it into another directory.
func (a *TGFSApp) Move(ctx context.Context, srcPath, dstPath string) (*tgfs.FileRef, error) {
	fr, err := a.lookupFile(srcPath)
	if err != nil {
		return nil, err
	}
	dir, name, err := a.target(dstPath, fr.Name())
	if err != nil {
		return nil, err
	}
	return a.service.MoveFile(ctx, fr, dir, name)
}

// Versions returns the descriptor holding the version history of a file.
func (a *TGFSApp) Versions(ctx context.Context, remotePath string) (*tgfs.FileDescriptor, error) {
	fr, err := a.lookupFile(remotePath)
	if err != nil {
		return nil, err
	}
	return a.service.GetFileDesc(ctx, fr)
}

// Touch creates an empty file. An existing file or directory is left alone.
func (a *TGFSApp) Touch(ctx context.Context, remotePath string) error {
	_, _, err := a.service.Lookup(remotePath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, tgfs.ErrNotFound) {
		return err
	}
	parentPath, name := tgfs.SplitPath(remotePath)
	parent, err := a.service.Navigate(parentPath)
	if err != nil {
		return err
	}
	_, err = a.service.CreateEmptyFile(ctx, name, parent)
	return err
}

// Sync reconciles with the remote metadata and persists local changes.
func (a *TGFSApp) Sync(ctx context.Context) error {
	return a.service.Sync(ctx)
}

// MessageID returns the id of the pinned metadata message.
func (a *TGFSApp) MessageID() tgfs.MessageID {
	return a.service.MessageID()
}

// Close logs the outcome of the operation and releases the store and the
// log file.
func (a *TGFSApp) Close() error {
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"elapsed", a.op.Elapsed(a.clock),
	)

	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing message store: %w", err)
	}
	if err := a.logFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing log file: %w", err)
	}
	return firstErr
}
