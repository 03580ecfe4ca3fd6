package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/metrics"
	"github.com/fruitsalade/rootshare/internal/storage"
)

const (
	tempPrefix = ".rootshare-upload-"
	tempSuffix = ".tmp"
)

// TempPattern matches upload temp files; the janitor sweeps stale ones.
const TempPattern = tempPrefix + "*" + tempSuffix

func isTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// IsTempFile reports whether a file name belongs to an in-flight upload.
func IsTempFile(name string) bool { return isTempName(name) }

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 256*1024)
		return &b
	},
}

// pendingFile is a temp file in the destination directory that is renamed
// over its final name on Close.
type pendingFile struct {
	f       *os.File
	final   Resolved
	done    bool
	written int64
}

func (p *pendingFile) Write(b []byte) (int, error) {
	n, err := p.f.Write(b)
	p.written += int64(n)
	return n, err
}

func (p *pendingFile) WriteAt(b []byte, off int64) (int, error) {
	n, err := p.f.WriteAt(b, off)
	p.written += int64(n)
	return n, err
}

// Name returns the virtual path the file is committed to.
func (p *pendingFile) Name() string { return p.final.Virtual() }

// Close flushes the temp file and renames it over the final path,
// replacing any existing file there.
func (p *pendingFile) Close() error {
	if p.done {
		return nil
	}
	p.done = true
	tmp := p.f.Name()
	if err := p.f.Sync(); err != nil {
		p.f.Close()
		os.Remove(tmp)
		return storage.Map("upload", p.final.Virtual(), err)
	}
	if err := p.f.Close(); err != nil {
		os.Remove(tmp)
		return storage.Map("upload", p.final.Virtual(), err)
	}
	if info, err := os.Lstat(p.final.Real()); err == nil && info.IsDir() {
		os.Remove(tmp)
		return storage.Errorf(storage.KindIsADirectory, "upload", p.final.Virtual(), "a directory exists at this name")
	}
	if err := os.Rename(tmp, p.final.Real()); err != nil {
		os.Remove(tmp)
		return storage.Map("upload", p.final.Virtual(), err)
	}
	metrics.RecordUploadBytes(p.written)
	return nil
}

// Abort removes the temp file without touching the final path.
func (p *pendingFile) Abort() error {
	if p.done {
		return nil
	}
	p.done = true
	p.f.Close()
	if err := os.Remove(p.f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storage.Map("upload", p.final.Virtual(), err)
	}
	return nil
}

// Create opens a pending file named name inside dir. dir and any missing
// ancestors are created first.
func (b *Backend) Create(ctx context.Context, dir, name string) (storage.Pending, error) {
	rd, err := b.root.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if err := b.ensureDir(rd); err != nil {
		return nil, err
	}
	return b.create(ctx, rd, name)
}

func (b *Backend) create(ctx context.Context, dir Resolved, name string) (*pendingFile, error) {
	if err := ctxErr(ctx, "upload", dir.Virtual()); err != nil {
		return nil, err
	}
	final, err := b.root.Join(dir, name)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(final.Real()), tempPrefix+"*"+tempSuffix)
	if err != nil {
		return nil, storage.Map("upload", final.Virtual(), err)
	}
	return &pendingFile{f: f, final: final}, nil
}

func (b *Backend) ensureDir(dir Resolved) error {
	if err := os.MkdirAll(dir.Real(), 0o755); err != nil {
		return storage.Map("upload", dir.Virtual(), err)
	}
	return nil
}

// Upload writes every item from src into dir, creating dir first.
//
// Each file is written to a temp file and renamed into place, so a file is
// either fully stored or absent. Items are independent: a failing item is
// reported in Failed and the next item is processed. Items already stored
// stay stored. A failure of src itself or a cancelled ctx ends the call.
func (b *Backend) Upload(ctx context.Context, dir string, src storage.UploadSource) (res *storage.UploadResult, err error) {
	defer observe("upload", &err)
	rd, err := b.root.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if err := b.ensureDir(rd); err != nil {
		return nil, err
	}

	res = &storage.UploadResult{Stored: []string{}}
	for {
		item, err := src.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, storage.Map("upload", rd.Virtual(), fmt.Errorf("read upload stream: %w", err))
		}

		n, err := b.receive(ctx, rd, item)
		if err != nil {
			if ctx.Err() != nil {
				return res, storage.Map("upload", rd.Virtual(), ctx.Err())
			}
			se := storage.Map("upload", rd.Virtual(), err)
			res.Failed = append(res.Failed, storage.UploadFailure{
				Name:    item.Name,
				Kind:    storage.KindOf(se),
				Message: se.Error(),
			})
			logging.WithContext(ctx).Warn("upload item failed",
				zap.String("dir", rd.Virtual()),
				zap.String("name", item.Name),
				zap.Error(se))
			// Drain what is left of the item so the next one can be read.
			io.Copy(io.Discard, item.Body)
			continue
		}
		res.Stored = append(res.Stored, item.Name)
		res.Written += n
	}
}

func (b *Backend) receive(ctx context.Context, dir Resolved, item *storage.UploadItem) (int64, error) {
	p, err := b.create(ctx, dir, item.Name)
	if err != nil {
		return 0, err
	}

	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)

	n, err := io.CopyBuffer(p, contextReader{ctx: ctx, r: item.Body}, *bufp)
	if err != nil {
		p.Abort()
		return n, storage.Map("upload", p.Name(), err)
	}
	if err := p.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
