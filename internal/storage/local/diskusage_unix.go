//go:build linux || darwin || freebsd

package local

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/fruitsalade/rootshare/internal/storage"
)

// DiskUsage reports capacity of the filesystem holding the root.
func (b *Backend) DiskUsage() (*storage.DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(b.root.Path(), &st); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", b.root.Path(), err)
	}
	bsize := uint64(st.Bsize)
	total := uint64(st.Blocks) * bsize
	free := uint64(st.Bavail) * bsize
	return &storage.DiskUsage{Total: total, Free: free, Used: total - uint64(st.Bfree)*bsize}, nil
}
