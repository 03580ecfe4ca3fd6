// Package smb provides an SMB/CIFS network share storage backend.
// The SMB share must be pre-mounted on the OS (via mount.cifs or fstab).
// This backend delegates to the local filesystem backend under the mount.
package smb

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/rootshare/internal/storage/local"
)

// Config holds SMB backend settings. Server is kept for logs and /health
// only; I/O goes through MountPath.
type Config struct {
	Server    string `toml:"server"`     // e.g. //server/share
	MountPath string `toml:"mount_path"` // where the share is mounted
	RootPath  string `toml:"root_path"`  // exposed directory, inside MountPath; defaults to MountPath
}

// Backend wraps a local backend rooted inside an SMB mount.
type Backend struct {
	*local.Backend
	config Config
}

// New creates a new SMB backend. It refuses to start when MountPath is not
// a mount point, so an unmounted share never silently exposes the empty
// directory underneath.
func New(cfg Config) (*Backend, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = cfg.RootPath
	}
	if cfg.MountPath == "" {
		return nil, fmt.Errorf("mount_path is required")
	}
	if cfg.RootPath == "" {
		cfg.RootPath = cfg.MountPath
	}

	mounted, err := isMountPoint(cfg.MountPath)
	if err != nil {
		return nil, fmt.Errorf("smb mount %s: %w", cfg.MountPath, err)
	}
	if !mounted {
		return nil, fmt.Errorf("smb mount %s: not a mount point", cfg.MountPath)
	}

	rel, err := filepath.Rel(cfg.MountPath, cfg.RootPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("smb root %s is outside mount %s", cfg.RootPath, cfg.MountPath)
	}

	lb, err := local.New(local.Config{RootPath: cfg.RootPath})
	if err != nil {
		return nil, fmt.Errorf("smb backend at %s: %w", cfg.RootPath, err)
	}

	return &Backend{
		Backend: lb,
		config:  cfg,
	}, nil
}

// Type returns "smb".
func (b *Backend) Type() string { return "smb" }

// Server returns the configured share name.
func (b *Backend) Server() string { return b.config.Server }
