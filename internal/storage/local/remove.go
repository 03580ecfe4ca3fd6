package local

import (
	"context"
	"os"

	"github.com/fruitsalade/rootshare/internal/storage"
)

// Remove deletes a file, or a directory with everything below it.
// A missing target is NotFound. The root itself cannot be removed.
func (b *Backend) Remove(ctx context.Context, p string) (err error) {
	defer observe("delete", &err)
	rp, err := b.root.Resolve(p)
	if err != nil {
		return err
	}
	if rp.IsRoot() {
		return storage.Errorf(storage.KindInvalidPath, "delete", rp.Virtual(), "cannot delete the root directory")
	}
	if err := ctxErr(ctx, "delete", rp.Virtual()); err != nil {
		return err
	}

	if _, err := os.Lstat(rp.Real()); err != nil {
		return storage.Map("delete", rp.Virtual(), err)
	}
	if err := os.RemoveAll(rp.Real()); err != nil {
		return storage.Map("delete", rp.Virtual(), err)
	}
	return nil
}
