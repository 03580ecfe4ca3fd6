package local

import (
	"context"
	"os"

	"github.com/fruitsalade/rootshare/internal/storage"
)

// Mkdir creates parent/name along with any missing ancestors and returns
// its virtual path. An existing directory is not an error; an existing
// file at the same path is.
func (b *Backend) Mkdir(ctx context.Context, parent, name string) (_ string, err error) {
	defer observe("mkdir", &err)
	pp, err := b.root.Resolve(parent)
	if err != nil {
		return "", err
	}
	target, err := b.root.Join(pp, name)
	if err != nil {
		return "", storage.Map("mkdir", pp.Virtual(), err)
	}
	if err := ctxErr(ctx, "mkdir", target.Virtual()); err != nil {
		return "", err
	}

	if err := os.MkdirAll(target.Real(), 0o755); err != nil {
		if info, statErr := os.Stat(target.Real()); statErr == nil && !info.IsDir() {
			return "", storage.Errorf(storage.KindNotADirectory, "mkdir", target.Virtual(), "a file exists at this path")
		}
		return "", storage.Map("mkdir", target.Virtual(), err)
	}
	return target.Virtual(), nil
}
