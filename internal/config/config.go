// Package config loads runtime configuration for the yank agent and CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file at ~/.yank/config.json.
//
// No command-line flag overrides a config value; `yank config --set`
// edits the file.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/yank/internal/filex"
)

// Config holds runtime settings shared by the agent and the CLI.
//
// Units: sizes are bytes, intervals are time.Durations. Zero MaxFileSize or
// MaxTotalSize means unlimited.
type Config struct {
	Port int

	SyncText   bool
	SyncImages bool
	SyncFiles  bool

	MaxFileSize  int64
	MaxTotalSize int64

	IgnoredExtensions []string

	LazyThreshold  int64
	ChunkSize      int
	TransferExpiry time.Duration
	PollInterval   time.Duration
}

// LoadDefaults populates c with the documented defaults.
func (c *Config) LoadDefaults() {
	c.Port = 9876
	c.SyncText = true
	c.SyncImages = true
	c.SyncFiles = true
	c.MaxFileSize = 0
	c.MaxTotalSize = 0
	c.IgnoredExtensions = nil
	c.LazyThreshold = 10 << 20
	c.ChunkSize = 1 << 20
	c.TransferExpiry = 300 * time.Second
	c.PollInterval = 300 * time.Millisecond
}

// DefaultPath returns ~/.yank/config.json.
func DefaultPath() (string, error) {
	dir, err := filex.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load constructs a Config from defaults overlaid with ~/.yank/config.json.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom builds a Config from defaults overlaid with the given file. A
// missing file just yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Set updates one key using the config.json field names, parsing the value
// by the field's type.
func (c *Config) Set(key, value string) error {
	switch key {
	case "sync_text", "sync_images", "sync_files":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "sync_text":
			c.SyncText = b
		case "sync_images":
			c.SyncImages = b
		case "sync_files":
			c.SyncFiles = b
		}
	case "max_file_size", "max_total_size", "lazy_threshold":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: expected a non-negative byte count", key)
		}
		switch key {
		case "max_file_size":
			c.MaxFileSize = n
		case "max_total_size":
			c.MaxTotalSize = n
		case "lazy_threshold":
			c.LazyThreshold = n
		}
	case "chunk_size":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("chunk_size: expected a positive byte count")
		}
		c.ChunkSize = n
	case "transfer_expiry":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("transfer_expiry: expected seconds")
		}
		c.TransferExpiry = time.Duration(n) * time.Second
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("port: expected 1..65535")
		}
		c.Port = n
	case "ignored_extensions":
		c.IgnoredExtensions = nil
		for _, ext := range strings.Split(value, ",") {
			ext = strings.TrimSpace(ext)
			if ext != "" {
				c.IgnoredExtensions = append(c.IgnoredExtensions, ext)
			}
		}
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
