package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/yank/internal/timex"
)

// jsonConfig is a DTO used exclusively for JSON (un)marshalling. Sizes are
// integer bytes; transfer_expiry is integer seconds; poll_interval uses
// timex.Duration so JSON can say "300ms" or integer nanoseconds.
type jsonConfig struct {
	Port              *int           `json:"port,omitempty"`
	SyncText          *bool          `json:"sync_text,omitempty"`
	SyncImages        *bool          `json:"sync_images,omitempty"`
	SyncFiles         *bool          `json:"sync_files,omitempty"`
	MaxFileSize       *int64         `json:"max_file_size,omitempty"`
	MaxTotalSize      *int64         `json:"max_total_size,omitempty"`
	IgnoredExtensions []string       `json:"ignored_extensions,omitempty"`
	LazyThreshold     *int64         `json:"lazy_threshold,omitempty"`
	ChunkSize         *int           `json:"chunk_size,omitempty"`
	TransferExpiry    *int           `json:"transfer_expiry,omitempty"`
	PollInterval      *timex.Duration `json:"poll_interval,omitempty"`
}

// parseJSON overlays cfg with values from the file. Only fields present in
// the JSON override the defaults.
func parseJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if jc.Port != nil {
		cfg.Port = *jc.Port
	}
	if jc.SyncText != nil {
		cfg.SyncText = *jc.SyncText
	}
	if jc.SyncImages != nil {
		cfg.SyncImages = *jc.SyncImages
	}
	if jc.SyncFiles != nil {
		cfg.SyncFiles = *jc.SyncFiles
	}
	if jc.MaxFileSize != nil {
		cfg.MaxFileSize = *jc.MaxFileSize
	}
	if jc.MaxTotalSize != nil {
		cfg.MaxTotalSize = *jc.MaxTotalSize
	}
	if jc.IgnoredExtensions != nil {
		cfg.IgnoredExtensions = jc.IgnoredExtensions
	}
	if jc.LazyThreshold != nil {
		cfg.LazyThreshold = *jc.LazyThreshold
	}
	if jc.ChunkSize != nil {
		cfg.ChunkSize = *jc.ChunkSize
	}
	if jc.TransferExpiry != nil {
		cfg.TransferExpiry = time.Duration(*jc.TransferExpiry) * time.Second
	}
	if jc.PollInterval != nil {
		cfg.PollInterval = jc.PollInterval.Duration
	}
	return nil
}

// SaveTo writes the full config to path with 0600 permissions.
func (c *Config) SaveTo(path string) error {
	expiry := int(c.TransferExpiry / time.Second)
	poll := timex.Duration{Duration: c.PollInterval}
	jc := jsonConfig{
		Port:              &c.Port,
		SyncText:          &c.SyncText,
		SyncImages:        &c.SyncImages,
		SyncFiles:         &c.SyncFiles,
		MaxFileSize:       &c.MaxFileSize,
		MaxTotalSize:      &c.MaxTotalSize,
		IgnoredExtensions: c.IgnoredExtensions,
		LazyThreshold:     &c.LazyThreshold,
		ChunkSize:         &c.ChunkSize,
		TransferExpiry:    &expiry,
		PollInterval:      &poll,
	}

	data, err := json.MarshalIndent(jc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Save writes to ~/.yank/config.json.
func (c *Config) Save() error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// Reset removes the config file so defaults apply again.
func Reset() error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove config: %w", err)
	}
	return nil
}
