package smb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresMountPath(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "mount_path is required")
}

func TestNewRejectsPlainDirectory(t *testing.T) {
	_, err := New(Config{MountPath: t.TempDir()})
	assert.ErrorContains(t, err, "not a mount point")
}

func TestFilesystemRootIsMountPoint(t *testing.T) {
	ok, err := isMountPoint("/")
	require.NoError(t, err)
	assert.True(t, ok)
}
