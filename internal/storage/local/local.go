// Package local provides the local filesystem storage backend: path
// confinement and the list, upload, download, mkdir, remove and move
// operations against a single root directory.
package local

import (
	"context"
	"fmt"
	"os"

	"github.com/fruitsalade/rootshare/internal/metrics"
	"github.com/fruitsalade/rootshare/internal/storage"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `toml:"root_path"`
	CreateRoot bool   `toml:"create_root"`
}

// Backend implements storage.Store on the local filesystem.
// It holds no locks; concurrent operations race only as the underlying
// filesystem allows.
type Backend struct {
	root *Root
}

var _ storage.Store = (*Backend)(nil)

// New creates a local backend confined to cfg.RootPath.
func New(cfg Config) (*Backend, error) {
	root, err := NewRoot(cfg.RootPath, cfg.CreateRoot)
	if err != nil {
		return nil, err
	}
	return &Backend{root: root}, nil
}

// NewWithRoot creates a backend around an existing Root.
func NewWithRoot(root *Root) *Backend {
	return &Backend{root: root}
}

// Root returns the confinement root.
func (b *Backend) Root() *Root { return b.root }

// Stat returns metadata for a path.
func (b *Backend) Stat(ctx context.Context, p string) (entry *storage.Entry, err error) {
	defer observe("stat", &err)
	rp, err := b.root.Resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(rp.Real())
	if err != nil {
		return nil, storage.Map("stat", rp.Virtual(), err)
	}
	e := entryFromInfo(info)
	if rp.IsRoot() {
		e.Name = "/"
	}
	return &e, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

func entryFromInfo(info os.FileInfo) storage.Entry {
	e := storage.Entry{
		Name:        info.Name(),
		IsDirectory: info.IsDir(),
		UpdatedAt:   info.ModTime(),
	}
	if !e.IsDirectory {
		e.Size = info.Size()
	}
	return e
}

func observe(op string, errp *error) {
	metrics.RecordOperation(op, string(kindOf(*errp)))
}

func kindOf(err error) storage.Kind {
	if err == nil {
		return "ok"
	}
	return storage.KindOf(err)
}

func ctxErr(ctx context.Context, op, p string) error {
	if err := ctx.Err(); err != nil {
		return storage.Map(op, p, fmt.Errorf("%s aborted: %w", op, err))
	}
	return nil
}
