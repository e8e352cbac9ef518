// Package config loads configuration from a YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds birdfs client configuration. Values are layered:
// defaults, then the YAML file, then environment variables; command
// flags are applied on top by the caller.
type Config struct {
	// Object store
	ServerURL     string        `yaml:"server_url"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Caching
	CacheDir         string `yaml:"cache_dir"`          // empty = memory only
	MaxDiskCache     int64  `yaml:"max_disk_cache"`     // bytes
	BlobCacheEntries int    `yaml:"blob_cache_entries"` // in-memory blobs

	// Filesystem view
	StatSizes bool `yaml:"stat_sizes"`

	// Listeners
	MetricsAddr string `yaml:"metrics_addr"` // empty = disabled
	WebDAVAddr  string `yaml:"webdav_addr"`

	// Language server transport
	LSPMaxInflight int `yaml:"lsp_max_inflight"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ServerURL:        "http://localhost:3000",
		Timeout:          30 * time.Second,
		RetryAttempts:    3,
		LogLevel:         "info",
		LogFormat:        "console",
		MaxDiskCache:     1 << 30, // 1GB
		BlobCacheEntries: 256,
		WebDAVAddr:       ":8081",
		LSPMaxInflight:   8,
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty, otherwise $BIRD_CONFIG), and the environment. It does not
// validate: callers apply command-line overrides first, then Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("BIRD_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerURL = envOr("BIRD_SERVER_URL", c.ServerURL)
	c.Timeout = envDuration("BIRD_TIMEOUT", c.Timeout)
	c.RetryAttempts = envInt("BIRD_RETRY_ATTEMPTS", c.RetryAttempts)
	c.LogLevel = envOr("BIRD_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("BIRD_LOG_FORMAT", c.LogFormat)
	c.CacheDir = envOr("BIRD_CACHE_DIR", c.CacheDir)
	c.MaxDiskCache = envInt64("BIRD_MAX_DISK_CACHE", c.MaxDiskCache)
	c.BlobCacheEntries = envInt("BIRD_BLOB_CACHE_ENTRIES", c.BlobCacheEntries)
	c.StatSizes = envBool("BIRD_STAT_SIZES", c.StatSizes)
	c.MetricsAddr = envOr("BIRD_METRICS_ADDR", c.MetricsAddr)
	c.WebDAVAddr = envOr("BIRD_WEBDAV_ADDR", c.WebDAVAddr)
	c.LSPMaxInflight = envInt("BIRD_LSP_MAX_INFLIGHT", c.LSPMaxInflight)
}

// Validate checks that required settings are usable.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server URL %q: scheme must be http or https", c.ServerURL)
	}
	if c.BlobCacheEntries < 0 {
		return fmt.Errorf("blob cache entries must not be negative")
	}
	if c.LSPMaxInflight <= 0 {
		return fmt.Errorf("lsp max inflight must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
