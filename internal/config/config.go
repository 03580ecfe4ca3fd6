// Package config loads server configuration from defaults, an optional
// TOML file, environment variables and command-line flags, in that order.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/fruitsalade/rootshare/internal/logging"
)

// EnvPrefix prefixes every environment variable, e.g. ROOTSHARE_LISTEN_ADDR.
// Top-level keys are also read without the prefix (ROOT_PATH, LISTEN_ADDR).
const EnvPrefix = "ROOTSHARE"

// Duration is a time.Duration that decodes from strings like "90m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds all server configuration.
type Config struct {
	// Root directory exposed by every frontend. Required.
	RootPath   string `toml:"root_path" envconfig:"ROOT_PATH"`
	CreateRoot bool   `toml:"create_root" envconfig:"CREATE_ROOT"`

	// Server
	ListenAddr  string `toml:"listen_addr" envconfig:"LISTEN_ADDR"`
	MetricsAddr string `toml:"metrics_addr" envconfig:"METRICS_ADDR"`
	MaxJSONBody int64  `toml:"max_json_body" envconfig:"MAX_JSON_BODY"`

	Log       logging.Config  `toml:"log" envconfig:"LOG"`
	Storage   StorageConfig   `toml:"storage" envconfig:"STORAGE"`
	WebDAV    WebDAVConfig    `toml:"webdav" envconfig:"WEBDAV"`
	SFTP      SFTPConfig      `toml:"sftp" envconfig:"SFTP"`
	RateLimit RateLimitConfig `toml:"rate_limit" envconfig:"RATE_LIMIT"`
	Janitor   JanitorConfig   `toml:"janitor" envconfig:"JANITOR"`
	CORS      CORSConfig      `toml:"cors" envconfig:"CORS"`
}

// StorageConfig selects the storage backend ("local" or "smb"). For smb,
// SMBMount names the mount point of the share (default: the root itself);
// the root must lie inside it.
type StorageConfig struct {
	Backend  string `toml:"backend"`
	SMBMount string `toml:"smb_mount" split_words:"true"`
}

// WebDAVConfig controls the /webdav/ frontend.
type WebDAVConfig struct {
	Enabled bool   `toml:"enabled"`
	Prefix  string `toml:"prefix"`
}

// SFTPConfig controls the SFTP frontend. An empty ListenAddr disables it.
type SFTPConfig struct {
	ListenAddr  string `toml:"listen_addr" split_words:"true"`
	HostKeyPath string `toml:"host_key_path" split_words:"true"`
}

// RateLimitConfig is a per-client token bucket. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// JanitorConfig controls cleanup of abandoned upload temp files.
type JanitorConfig struct {
	Schedule string   `toml:"schedule"`
	MaxAge   Duration `toml:"max_age" split_words:"true"`
}

// CORSConfig lists the origins allowed to call the HTTP API from a
// browser. An empty list disables CORS headers.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins" split_words:"true"`
	MaxAge         int      `toml:"max_age" split_words:"true"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddr:  ":3000",
		MetricsAddr: ":9090",
		MaxJSONBody: 1 << 20,
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{Backend: "local"},
		WebDAV:  WebDAVConfig{Enabled: true, Prefix: "/webdav"},
		RateLimit: RateLimitConfig{
			Burst: 20,
		},
		Janitor: JanitorConfig{
			Schedule: "@every 1h",
			MaxAge:   Duration{24 * time.Hour},
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			MaxAge:         600,
		},
	}
}

// LoadFile overlays the TOML file at path onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("parse config %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays environment variables onto cfg. Unset variables leave
// fields untouched. PORT is honored as a shorthand for ":PORT".
func LoadEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv("LISTEN_ADDR") == "" && os.Getenv(EnvPrefix+"_LISTEN_ADDR") == "" {
		cfg.ListenAddr = ":" + port
	}
	return nil
}

// Load builds the configuration from args (without the program name).
// Flags: -config FILE, -root DIR, -listen ADDR. A single positional
// argument is taken as the root directory.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("rootshare", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(EnvPrefix+"_CONFIG"), "path to a TOML config file")
	root := fs.String("root", "", "directory to expose")
	listen := fs.String("listen", "", "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := LoadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}
	if err := LoadEnv(cfg); err != nil {
		return nil, err
	}

	switch {
	case *root != "":
		cfg.RootPath = *root
	case fs.NArg() == 1:
		cfg.RootPath = fs.Arg(0)
	case fs.NArg() > 1:
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args()[1:])
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.RootPath == "" {
		return fmt.Errorf("root path is required (-root, ROOT_PATH or root_path)")
	}
	switch c.Storage.Backend {
	case "local", "smb":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1")
	}
	if c.MaxJSONBody <= 0 {
		return fmt.Errorf("max_json_body must be positive")
	}
	if c.CORS.MaxAge < 0 {
		return fmt.Errorf("cors.max_age must not be negative")
	}
	if c.WebDAV.Enabled && !strings.HasPrefix(c.WebDAV.Prefix, "/") {
		return fmt.Errorf("webdav.prefix must start with /")
	}
	return nil
}
