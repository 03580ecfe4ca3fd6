// Package webdav provides a WebDAV interface to the confined store.
package webdav

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/fruitsalade/rootshare/internal/events"
	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/storage"
)

// FS implements webdav.FileSystem on top of a storage.Store. Every name is
// resolved by the store, so WebDAV clients are confined like API clients.
type FS struct {
	store storage.Store
	pub   events.Publisher
}

var _ webdav.FileSystem = (*FS)(nil)

// NewFS creates a WebDAV filesystem. pub may be nil.
func NewFS(store storage.Store, pub events.Publisher) *FS {
	return &FS{store: store, pub: pub}
}

func normalizePath(name string) string {
	return path.Clean("/" + name)
}

func (fs *FS) publish(e events.Event) {
	if fs.pub == nil {
		return
	}
	e.Source = events.SourceWebDAV
	fs.pub.Publish(e)
}

// Mkdir creates a single directory. Unlike the API, the parent must exist
// and the directory must not, as MKCOL requires.
func (fs *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	name = normalizePath(name)
	if name == "/" {
		return osError("mkdir", name, storage.ErrConflict)
	}
	if _, err := fs.store.Stat(ctx, name); err == nil {
		return osError("mkdir", name, storage.ErrConflict)
	}
	parent, base := path.Split(name)
	if err := fs.requireDir(ctx, "mkdir", parent); err != nil {
		return err
	}
	created, err := fs.store.Mkdir(ctx, parent, base)
	if err != nil {
		return osError("mkdir", name, err)
	}
	fs.publish(events.Event{Type: events.EventCreate, Path: created, IsDirectory: true})
	return nil
}

// OpenFile opens a file or directory for reading, or starts writing a file.
// Writes land under the final name only when the file is closed.
func (fs *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	name = normalizePath(name)

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return fs.create(ctx, name, flag)
	}

	entry, err := fs.store.Stat(ctx, name)
	if err != nil {
		return nil, osError("open", name, err)
	}
	if entry.IsDirectory {
		return &dirFile{fs: fs, ctx: ctx, name: name, entry: entry}, nil
	}
	content, entry, err := fs.store.Open(ctx, name)
	if err != nil {
		return nil, osError("open", name, err)
	}
	return &readFile{Content: content, entry: entry}, nil
}

func (fs *FS) create(ctx context.Context, name string, flag int) (webdav.File, error) {
	if name == "/" {
		return nil, osError("open", name, storage.ErrIsADirectory)
	}
	existing, err := fs.store.Stat(ctx, name)
	switch {
	case err == nil && existing.IsDirectory:
		return nil, osError("open", name, storage.ErrIsADirectory)
	case err == nil && flag&os.O_EXCL != 0:
		return nil, osError("open", name, storage.ErrConflict)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, osError("open", name, err)
	}

	parent, base := path.Split(name)
	if err := fs.requireDir(ctx, "open", parent); err != nil {
		return nil, err
	}
	p, err := fs.store.Create(ctx, parent, base)
	if err != nil {
		return nil, osError("open", name, err)
	}
	return &writeFile{fs: fs, p: p, existed: existing != nil, started: time.Now()}, nil
}

func (fs *FS) requireDir(ctx context.Context, op, dir string) error {
	entry, err := fs.store.Stat(ctx, dir)
	if err != nil {
		return osError(op, dir, err)
	}
	if !entry.IsDirectory {
		return osError(op, dir, storage.ErrNotADirectory)
	}
	return nil
}

// RemoveAll removes a file or directory tree.
func (fs *FS) RemoveAll(ctx context.Context, name string) error {
	name = normalizePath(name)
	if err := fs.store.Remove(ctx, name); err != nil {
		return osError("remove", name, err)
	}
	fs.publish(events.Event{Type: events.EventDelete, Path: name})
	return nil
}

// Rename moves oldName to newName. The webdav handler removes an existing
// destination itself when the client sends Overwrite: T.
func (fs *FS) Rename(ctx context.Context, oldName, newName string) error {
	oldName, newName = normalizePath(oldName), normalizePath(newName)
	if err := fs.store.Move(ctx, oldName, newName); err != nil {
		return osError("rename", oldName, err)
	}
	fs.publish(events.Event{Type: events.EventMove, From: oldName, Path: newName})
	return nil
}

// Stat returns file info for a path.
func (fs *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	name = normalizePath(name)
	entry, err := fs.store.Stat(ctx, name)
	if err != nil {
		return nil, osError("stat", name, err)
	}
	return &fileInfo{entry: *entry}, nil
}

// osError translates a storage error into the os errors x/net/webdav
// checks with os.IsNotExist and friends.
func osError(op, name string, err error) error {
	var target error
	switch storage.KindOf(err) {
	case storage.KindNotFound:
		target = os.ErrNotExist
	case storage.KindConflict:
		target = os.ErrExist
	case storage.KindPermissionDenied:
		target = os.ErrPermission
	case storage.KindInvalidPath, storage.KindNotADirectory, storage.KindIsADirectory:
		target = os.ErrInvalid
	default:
		return err
	}
	// os.IsNotExist does not follow wrapped errors, so the sentinel goes in as is.
	return &os.PathError{Op: op, Path: name, Err: target}
}

// readFile serves a regular file.
type readFile struct {
	storage.Content
	entry *storage.Entry
}

func (f *readFile) Readdir(count int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.entry.Name, Err: os.ErrInvalid}
}

func (f *readFile) Stat() (os.FileInfo, error) {
	return &fileInfo{entry: *f.entry}, nil
}

func (f *readFile) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: f.entry.Name, Err: os.ErrPermission}
}

// dirFile lists a directory. Entries are fetched on the first Readdir.
type dirFile struct {
	fs      *FS
	ctx     context.Context
	name    string
	entry   *storage.Entry
	entries []storage.Entry
	loaded  bool
	pos     int
}

func (d *dirFile) Close() error { return nil }

func (d *dirFile) Read(p []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.name, Err: os.ErrInvalid}
}

func (d *dirFile) Seek(offset int64, whence int) (int64, error) {
	if offset == 0 && whence == io.SeekStart {
		d.pos = 0
		return 0, nil
	}
	return 0, &os.PathError{Op: "seek", Path: d.name, Err: os.ErrInvalid}
}

func (d *dirFile) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: os.ErrInvalid}
}

func (d *dirFile) Readdir(count int) ([]os.FileInfo, error) {
	if !d.loaded {
		entries, err := d.fs.store.List(d.ctx, d.name)
		if err != nil {
			return nil, osError("readdir", d.name, err)
		}
		d.entries, d.loaded = entries, true
	}

	rest := d.entries[d.pos:]
	if count > 0 {
		if len(rest) == 0 {
			return nil, io.EOF
		}
		if len(rest) > count {
			rest = rest[:count]
		}
	}
	d.pos += len(rest)

	infos := make([]os.FileInfo, 0, len(rest))
	for _, e := range rest {
		infos = append(infos, &fileInfo{entry: e})
	}
	return infos, nil
}

func (d *dirFile) Stat() (os.FileInfo, error) {
	return &fileInfo{entry: *d.entry}, nil
}

// writeFile buffers a PUT into a pending upload.
type writeFile struct {
	fs      *FS
	p       storage.Pending
	existed bool
	written int64
	started time.Time
	closed  bool
}

func (f *writeFile) Write(b []byte) (int, error) {
	n, err := f.p.Write(b)
	f.written += int64(n)
	return n, err
}

func (f *writeFile) Read(p []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: f.p.Name(), Err: os.ErrInvalid}
}

func (f *writeFile) Seek(offset int64, whence int) (int64, error) {
	return 0, &os.PathError{Op: "seek", Path: f.p.Name(), Err: os.ErrInvalid}
}

func (f *writeFile) Readdir(count int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: f.p.Name(), Err: os.ErrInvalid}
}

func (f *writeFile) Stat() (os.FileInfo, error) {
	return &fileInfo{entry: storage.Entry{
		Name:      path.Base(f.p.Name()),
		Size:      f.written,
		UpdatedAt: f.started,
	}}, nil
}

// Close commits the upload.
func (f *writeFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.p.Close(); err != nil {
		return osError("close", f.p.Name(), err)
	}
	typ := events.EventCreate
	if f.existed {
		typ = events.EventModify
	}
	f.fs.publish(events.Event{Type: typ, Path: f.p.Name(), Size: f.written})
	logging.Debug("webdav file written",
		zap.String("path", f.p.Name()),
		zap.Int64("size", f.written))
	return nil
}

// fileInfo implements os.FileInfo.
type fileInfo struct {
	entry storage.Entry
}

func (fi *fileInfo) Name() string       { return strings.TrimPrefix(fi.entry.Name, "/") }
func (fi *fileInfo) Size() int64        { return fi.entry.Size }
func (fi *fileInfo) IsDir() bool        { return fi.entry.IsDirectory }
func (fi *fileInfo) ModTime() time.Time { return fi.entry.UpdatedAt }
func (fi *fileInfo) Sys() any           { return nil }

func (fi *fileInfo) Mode() os.FileMode {
	if fi.entry.IsDirectory {
		return os.ModeDir | 0755
	}
	return 0644
}
