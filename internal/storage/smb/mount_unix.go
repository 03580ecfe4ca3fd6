//go:build unix

package smb

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// isMountPoint reports whether dir sits on a different device than its
// parent, or is the filesystem root.
func isMountPoint(dir string) (bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	var self, parent unix.Stat_t
	if err := unix.Stat(abs, &self); err != nil {
		return false, err
	}
	if err := unix.Stat(filepath.Dir(abs), &parent); err != nil {
		return false, err
	}
	if self.Dev != parent.Dev {
		return true, nil
	}
	return self.Ino == parent.Ino, nil
}
