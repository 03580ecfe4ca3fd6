//go:build unix

package storage

import (
	"errors"

	"golang.org/x/sys/unix"
)

func classifyErrno(err error) (Kind, string, bool) {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return "", "", false
	}
	switch errno {
	case unix.ENOTDIR:
		return KindNotADirectory, "not a directory", true
	case unix.EISDIR:
		return KindIsADirectory, "is a directory", true
	case unix.EROFS:
		return KindPermissionDenied, "read-only filesystem", true
	case unix.ENOSPC, unix.EDQUOT:
		return KindInsufficientStorage, "no space left on device", true
	case unix.EXDEV:
		return KindInternal, "cross-device move not possible", true
	case unix.EINVAL, unix.ENAMETOOLONG, unix.ELOOP:
		return KindInvalidPath, errno.Error(), true
	}
	return "", "", false
}
