//go:build !(linux || darwin || freebsd)

package local

import (
	"errors"

	"github.com/fruitsalade/rootshare/internal/storage"
)

func (b *Backend) DiskUsage() (*storage.DiskUsage, error) {
	return nil, errors.New("disk usage not supported on this platform")
}
