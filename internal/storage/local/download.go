package local

import (
	"context"
	"os"

	"github.com/fruitsalade/rootshare/internal/storage"
)

// Open returns the content of a regular file. The caller closes it.
func (b *Backend) Open(ctx context.Context, p string) (c storage.Content, entry *storage.Entry, err error) {
	defer observe("download", &err)
	rp, err := b.root.Resolve(p)
	if err != nil {
		return nil, nil, err
	}
	if err := ctxErr(ctx, "download", rp.Virtual()); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(rp.Real())
	if err != nil {
		return nil, nil, storage.Map("download", rp.Virtual(), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, storage.Map("download", rp.Virtual(), err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, storage.Errorf(storage.KindIsADirectory, "download", rp.Virtual(), "is a directory")
	}

	e := entryFromInfo(info)
	return f, &e, nil
}
