package sftpd

import (
	"errors"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"

	"github.com/fruitsalade/rootshare/internal/events"
	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/storage"
)

// handler serves SFTP requests from a storage.Store.
type handler struct {
	store storage.Store
	pub   events.Publisher
}

// Handlers returns request-server handlers backed by store. pub may be nil.
func Handlers(store storage.Store, pub events.Publisher) sftp.Handlers {
	h := &handler{store: store, pub: pub}
	return sftp.Handlers{FileGet: h, FilePut: h, FileCmd: h, FileList: h}
}

func (h *handler) publish(e events.Event) {
	if h.pub == nil {
		return
	}
	e.Source = events.SourceSFTP
	h.pub.Publish(e)
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

// Fileread opens a file for download.
func (h *handler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	content, _, err := h.store.Open(r.Context(), cleanPath(r.Filepath))
	if err != nil {
		return nil, sftpError(err)
	}
	return content, nil
}

// Filewrite starts an upload. The file appears under its name only once the
// client closes the handle.
func (h *handler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	name := cleanPath(r.Filepath)
	if name == "/" {
		return nil, sftpError(storage.ErrIsADirectory)
	}
	flags := r.Pflags()
	if flags.Append {
		return nil, sftp.ErrSSHFxOpUnsupported
	}

	ctx := r.Context()
	existing, err := h.store.Stat(ctx, name)
	switch {
	case err == nil && existing.IsDirectory:
		return nil, sftpError(storage.ErrIsADirectory)
	case err == nil && flags.Excl:
		return nil, sftpError(storage.ErrConflict)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, sftpError(err)
	}

	dir, base := path.Split(name)
	parent, err := h.store.Stat(ctx, dir)
	if err != nil {
		return nil, sftpError(err)
	}
	if !parent.IsDirectory {
		return nil, sftpError(storage.ErrNotADirectory)
	}

	p, err := h.store.Create(ctx, dir, base)
	if err != nil {
		return nil, sftpError(err)
	}
	u := &upload{h: h, p: p, existed: existing != nil}
	if existing != nil && !flags.Trunc {
		// The pending file replaces the old one on close, so bytes the
		// client does not rewrite must be carried over.
		if err := u.seed(r, name); err != nil {
			p.Abort()
			return nil, sftpError(err)
		}
	}
	return u, nil
}

// upload adapts a storage.Pending to the request server. WriteAt may be
// called from several workers at once.
type upload struct {
	h       *handler
	p       storage.Pending
	existed bool

	mu     sync.Mutex
	end    int64
	failed bool
}

func (u *upload) WriteAt(b []byte, off int64) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	n, err := u.p.WriteAt(b, off)
	if end := off + int64(n); end > u.end {
		u.end = end
	}
	return n, err
}

// seed copies the current content of name into the pending file.
func (u *upload) seed(r *sftp.Request, name string) error {
	content, _, err := u.h.store.Open(r.Context(), name)
	if err != nil {
		return err
	}
	defer content.Close()
	n, err := io.Copy(u.p, content)
	if err != nil {
		return err
	}
	u.end = n
	return nil
}

// TransferError is called when the session ends with the handle open.
func (u *upload) TransferError(err error) {
	u.mu.Lock()
	u.failed = true
	u.mu.Unlock()
	u.p.Abort()
	logging.Warn("sftp upload aborted",
		zap.String("path", u.p.Name()),
		zap.Error(err))
}

func (u *upload) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failed {
		return nil
	}
	if err := u.p.Close(); err != nil {
		return sftpError(err)
	}
	typ := events.EventCreate
	if u.existed {
		typ = events.EventModify
	}
	u.h.publish(events.Event{Type: typ, Path: u.p.Name(), Size: u.end})
	logging.Info("sftp file written",
		zap.String("path", u.p.Name()),
		zap.Int64("size", u.end))
	return nil
}

// Filecmd handles the non-transfer commands.
func (h *handler) Filecmd(r *sftp.Request) error {
	ctx := r.Context()
	name := cleanPath(r.Filepath)

	switch r.Method {
	case "Setstat":
		// Permissions and times are not stored; accept so uploads succeed.
		return nil
	case "Mkdir":
		if name == "/" {
			return sftpError(storage.ErrConflict)
		}
		dir, base := path.Split(name)
		created, err := h.store.Mkdir(ctx, dir, base)
		if err != nil {
			return sftpError(err)
		}
		h.publish(events.Event{Type: events.EventCreate, Path: created, IsDirectory: true})
		return nil
	case "Remove", "Rmdir":
		entry, err := h.store.Stat(ctx, name)
		if err != nil {
			return sftpError(err)
		}
		if r.Method == "Rmdir" && !entry.IsDirectory {
			return sftpError(storage.ErrNotADirectory)
		}
		if r.Method == "Remove" && entry.IsDirectory {
			return sftpError(storage.ErrIsADirectory)
		}
		if err := h.store.Remove(ctx, name); err != nil {
			return sftpError(err)
		}
		h.publish(events.Event{Type: events.EventDelete, Path: name, IsDirectory: entry.IsDirectory})
		return nil
	case "Rename":
		target := cleanPath(r.Target)
		if err := h.store.Move(ctx, name, target); err != nil {
			return sftpError(err)
		}
		h.publish(events.Event{Type: events.EventMove, From: name, Path: target})
		return nil
	}
	return sftp.ErrSSHFxOpUnsupported
}

// Filelist answers List and Stat.
func (h *handler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	ctx := r.Context()
	name := cleanPath(r.Filepath)

	switch r.Method {
	case "List":
		entries, err := h.store.List(ctx, name)
		if err != nil {
			return nil, sftpError(err)
		}
		infos := make(listerAt, 0, len(entries))
		for _, e := range entries {
			infos = append(infos, fileInfo{entry: e})
		}
		return infos, nil
	case "Stat":
		entry, err := h.store.Stat(ctx, name)
		if err != nil {
			return nil, sftpError(err)
		}
		return listerAt{fileInfo{entry: *entry}}, nil
	}
	return nil, sftp.ErrSSHFxOpUnsupported
}

type listerAt []os.FileInfo

func (l listerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(ls, l[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

type fileInfo struct {
	entry storage.Entry
}

func (fi fileInfo) Name() string       { return path.Base(fi.entry.Name) }
func (fi fileInfo) Size() int64        { return fi.entry.Size }
func (fi fileInfo) IsDir() bool        { return fi.entry.IsDirectory }
func (fi fileInfo) ModTime() time.Time { return fi.entry.UpdatedAt }
func (fi fileInfo) Sys() any           { return nil }

func (fi fileInfo) Mode() os.FileMode {
	if fi.entry.IsDirectory {
		return os.ModeDir | 0o755
	}
	return 0o644
}

// sftpError maps a storage error onto an SFTP status. Kinds without a
// dedicated status become SSH_FX_FAILURE carrying the message.
func sftpError(err error) error {
	switch storage.KindOf(err) {
	case storage.KindNotFound:
		return sftp.ErrSSHFxNoSuchFile
	case storage.KindPermissionDenied:
		return sftp.ErrSSHFxPermissionDenied
	}
	return err
}
