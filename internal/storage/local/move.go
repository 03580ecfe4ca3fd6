package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/fruitsalade/rootshare/internal/logging"
	"github.com/fruitsalade/rootshare/internal/storage"
)

// Move renames from to to. The destination must not exist and its parent
// directory must. Renames across filesystems fall back to copy and remove.
func (b *Backend) Move(ctx context.Context, from, to string) (err error) {
	defer observe("move", &err)
	src, err := b.root.Resolve(from)
	if err != nil {
		return err
	}
	dst, err := b.root.Resolve(to)
	if err != nil {
		return err
	}
	if src.IsRoot() {
		return storage.Errorf(storage.KindInvalidPath, "move", src.Virtual(), "cannot move the root directory")
	}
	if dst.IsRoot() {
		return storage.Errorf(storage.KindInvalidPath, "move", dst.Virtual(), "destination is the root directory")
	}
	if err := ctxErr(ctx, "move", src.Virtual()); err != nil {
		return err
	}

	info, err := os.Lstat(src.Real())
	if err != nil {
		return storage.Map("move", src.Virtual(), err)
	}
	if info.IsDir() && within(src, dst) {
		return storage.Errorf(storage.KindInvalidPath, "move", dst.Virtual(), "cannot move a directory into itself")
	}

	parent, err := os.Stat(filepath.Dir(dst.Real()))
	if err != nil {
		return storage.Map("move", dst.Virtual(), err)
	}
	if !parent.IsDir() {
		return storage.Errorf(storage.KindNotADirectory, "move", dst.Virtual(), "destination parent is not a directory")
	}

	err = renameNoReplace(src.Real(), dst.Real())
	if errors.Is(err, syscall.EXDEV) {
		logging.WithContext(ctx).Info("cross-device move, copying",
			zap.String("from", src.Virtual()),
			zap.String("to", dst.Virtual()))
		err = moveByCopy(ctx, src.Real(), dst.Real())
	}
	if err != nil {
		return storage.Map("move", src.Virtual(), err)
	}
	return nil
}

// within reports whether dst is src or lies below it.
func within(src, dst Resolved) bool {
	if dst.Virtual() == src.Virtual() || strings.HasPrefix(dst.Virtual(), src.Virtual()+"/") {
		return true
	}
	rel, err := filepath.Rel(src.Real(), dst.Real())
	return err == nil && !escapes(rel)
}

// renameChecked refuses to overwrite an existing destination. The check
// and the rename are two steps, so a racing writer can still slip in.
func renameChecked(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: os.ErrExist}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(src, dst)
}
