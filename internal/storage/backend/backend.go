// Package backend builds the configured storage.Store.
package backend

import (
	"fmt"

	"github.com/fruitsalade/rootshare/internal/config"
	"github.com/fruitsalade/rootshare/internal/storage"
	"github.com/fruitsalade/rootshare/internal/storage/local"
	"github.com/fruitsalade/rootshare/internal/storage/smb"
)

// Store is a storage.Store that also exposes its confinement root, which
// the WebDAV and SFTP frontends need for name resolution.
type Store interface {
	storage.Store
	Root() *local.Root
}

// New creates the backend selected by cfg.Storage.Backend.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "", "local":
		b, err := local.New(local.Config{
			RootPath:   cfg.RootPath,
			CreateRoot: cfg.CreateRoot,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "smb":
		b, err := smb.New(smb.Config{
			MountPath: cfg.Storage.SMBMount,
			RootPath:  cfg.RootPath,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Storage.Backend)
	}
}
