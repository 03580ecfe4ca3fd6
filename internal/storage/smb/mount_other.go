//go:build !unix

package smb

import "os"

// Mapped network drives cannot be told apart from local directories here.
func isMountPoint(dir string) (bool, error) {
	_, err := os.Stat(dir)
	return err == nil, err
}
