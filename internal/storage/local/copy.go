package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// moveByCopy copies src to dst and then removes src. dst must not exist.
// A failed copy removes whatever part of dst was written.
func moveByCopy(ctx context.Context, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: os.ErrExist}
	}
	if err := copyTree(ctx, src, dst); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// copyTree copies a file, symlink or directory tree. fastwalk calls the
// walk function from several goroutines, but always for a directory before
// its children, so each directory exists before anything is copied into it.
func copyTree(ctx context.Context, src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyEntry(src, dst, fs.FileInfoToDirEntry(info))
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	record := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			record(err)
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			record(err)
			return err
		}
		target := filepath.Join(dst, rel)

		if err := copyEntry(p, target, d); err != nil {
			record(err)
			return err
		}
		return nil
	})
	if firstErr != nil {
		return firstErr
	}
	return err
}

func copyEntry(src, dst string, d fs.DirEntry) error {
	switch {
	case d.Type()&fs.ModeSymlink != 0:
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(link, dst)
	case d.IsDir():
		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.Mkdir(dst, info.Mode().Perm())
	case d.Type().IsRegular():
		return copyFile(src, dst)
	default:
		return fmt.Errorf("cannot copy special file %s", filepath.Base(src))
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)

	if _, err := io.CopyBuffer(out, in, *bufp); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
