package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rootshare.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadRequiresRoot(t *testing.T) {
	t.Setenv("ROOT_PATH", "")
	t.Setenv("ROOTSHARE_ROOT_PATH", "")
	_, err := Load(nil)
	assert.ErrorContains(t, err, "root path is required")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"-root", "/srv/files"})
	require.NoError(t, err)
	assert.Equal(t, "/srv/files", cfg.RootPath)
	assert.Equal(t, ":3000", cfg.ListenAddr)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "@every 1h", cfg.Janitor.Schedule)
	assert.Equal(t, 24*time.Hour, cfg.Janitor.MaxAge.Duration)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestLoadCORSOrigins(t *testing.T) {
	path := writeConfig(t, "root_path = \"/x\"\n\n[cors]\nallowed_origins = [\"http://localhost:5173\"]\n")
	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORS.AllowedOrigins)

	t.Setenv("ROOTSHARE_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	cfg, err = Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoadFileThenEnvThenFlags(t *testing.T) {
	path := writeConfig(t, `
root_path = "/from/file"
listen_addr = ":7000"

[log]
level = "debug"

[sftp]
listen_addr = ":2022"

[janitor]
max_age = "90m"

[rate_limit]
rps = 5.5
burst = 3
`)
	t.Setenv("ROOTSHARE_LISTEN_ADDR", ":7100")
	t.Setenv("ROOTSHARE_LOG_FORMAT", "console")

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.RootPath)
	assert.Equal(t, ":7100", cfg.ListenAddr, "env overrides file")
	assert.Equal(t, "debug", cfg.Log.Level, "unset env keeps file value")
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, ":2022", cfg.SFTP.ListenAddr)
	assert.Equal(t, 90*time.Minute, cfg.Janitor.MaxAge.Duration)
	assert.InDelta(t, 5.5, cfg.RateLimit.RPS, 0.001)

	cfg, err = Load([]string{"-config", path, "-root", "/from/flag", "-listen", ":7200"})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.RootPath)
	assert.Equal(t, ":7200", cfg.ListenAddr)
}

func TestLoadLegacyEnvNames(t *testing.T) {
	t.Setenv("ROOT_PATH", "/legacy")
	t.Setenv("PORT", "8081")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/legacy", cfg.RootPath)
	assert.Equal(t, ":8081", cfg.ListenAddr)
}

func TestLoadPositionalRoot(t *testing.T) {
	cfg, err := Load([]string{"/positional"})
	require.NoError(t, err)
	assert.Equal(t, "/positional", cfg.RootPath)

	_, err = Load([]string{"/a", "/b"})
	assert.Error(t, err)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "root_path = \"/x\"\nroot_pth = \"/typo\"\n")
	_, err := Load([]string{"-config", path})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RootPath = "/x"
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Storage.Backend = "s3"
	assert.ErrorContains(t, bad.Validate(), "unknown storage backend")

	bad = *cfg
	bad.RateLimit = RateLimitConfig{RPS: 1, Burst: 0}
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.WebDAV.Prefix = "dav"
	assert.Error(t, bad.Validate())
}
