package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/rootshare/internal/config"
)

func TestNewLocal(t *testing.T) {
	cfg := config.Default()
	cfg.RootPath = t.TempDir()

	s, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "local", s.Type())
	assert.NotEmpty(t, s.Root().Path())
}

func TestNewUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.RootPath = t.TempDir()
	cfg.Storage.Backend = "ftp"

	_, err := New(cfg)
	assert.ErrorContains(t, err, "unknown backend type")
}

func TestNewSMBNeedsMount(t *testing.T) {
	cfg := config.Default()
	cfg.RootPath = t.TempDir()
	cfg.Storage.Backend = "smb"

	_, err := New(cfg)
	assert.Error(t, err)
}
