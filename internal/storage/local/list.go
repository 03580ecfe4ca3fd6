package local

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fruitsalade/rootshare/internal/storage"
)

// List returns the immediate children of dir. Children that cannot be
// stat'ed (removed mid-listing, broken symlinks) are left out, as are
// uploads still in progress. The order is whatever the filesystem returns.
func (b *Backend) List(ctx context.Context, dir string) (entries []storage.Entry, err error) {
	defer observe("list", &err)
	rp, err := b.root.Resolve(dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(rp.Real())
	if err != nil {
		return nil, storage.Map("list", rp.Virtual(), err)
	}
	if !info.IsDir() {
		return nil, storage.Errorf(storage.KindNotADirectory, "list", rp.Virtual(), "not a directory")
	}

	names, err := readNames(rp.Real())
	if err != nil {
		return nil, storage.Map("list", rp.Virtual(), err)
	}

	entries = make([]storage.Entry, 0, len(names))
	for _, name := range names {
		if err := ctxErr(ctx, "list", rp.Virtual()); err != nil {
			return nil, err
		}
		if isTempName(name) {
			continue
		}
		// Stat follows symlinks so a link to a directory lists as one.
		child, err := os.Stat(filepath.Join(rp.Real(), name))
		if err != nil {
			continue
		}
		e := entryFromInfo(child)
		e.Name = name
		entries = append(entries, e)
	}
	return entries, nil
}

func readNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}
