package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, 9876, c.Port)
	assert.True(t, c.SyncText)
	assert.True(t, c.SyncImages)
	assert.True(t, c.SyncFiles)
	assert.Equal(t, int64(10<<20), c.LazyThreshold)
	assert.Equal(t, 1<<20, c.ChunkSize)
	assert.Equal(t, 300*time.Second, c.TransferExpiry)
	assert.Equal(t, 300*time.Millisecond, c.PollInterval)
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, 9876, cfg.Port)
}

func TestLoadFrom_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
	  "sync_images": false,
	  "lazy_threshold": 5242880,
	  "transfer_expiry": 60,
	  "poll_interval": "150ms",
	  "ignored_extensions": [".iso", ".vmdk"]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.False(t, cfg.SyncImages)
	assert.True(t, cfg.SyncText, "untouched fields keep defaults")
	assert.Equal(t, int64(5<<20), cfg.LazyThreshold)
	assert.Equal(t, 60*time.Second, cfg.TransferExpiry)
	assert.Equal(t, 150*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{".iso", ".vmdk"}, cfg.IgnoredExtensions)
}

func TestLoadFrom_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{{"), 0o644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	var c Config
	c.LoadDefaults()
	c.SyncFiles = false
	c.MaxFileSize = 1 << 30
	require.NoError(t, c.SaveTo(path))

	got, err := LoadFrom(path)
	require.NoError(t, err)
	assert.False(t, got.SyncFiles)
	assert.Equal(t, int64(1<<30), got.MaxFileSize)
	assert.Equal(t, c.PollInterval, got.PollInterval)
}

func TestSet(t *testing.T) {
	var c Config
	c.LoadDefaults()

	require.NoError(t, c.Set("sync_text", "false"))
	assert.False(t, c.SyncText)

	require.NoError(t, c.Set("lazy_threshold", "1048576"))
	assert.Equal(t, int64(1<<20), c.LazyThreshold)

	require.NoError(t, c.Set("transfer_expiry", "120"))
	assert.Equal(t, 120*time.Second, c.TransferExpiry)

	require.NoError(t, c.Set("ignored_extensions", ".iso, .tmp"))
	assert.Equal(t, []string{".iso", ".tmp"}, c.IgnoredExtensions)

	require.NoError(t, c.Set("port", "10000"))
	assert.Equal(t, 10000, c.Port)
}

func TestSet_Invalid(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Error(t, c.Set("sync_text", "maybe"))
	assert.Error(t, c.Set("lazy_threshold", "-1"))
	assert.Error(t, c.Set("chunk_size", "0"))
	assert.Error(t, c.Set("port", "70000"))
	assert.Error(t, c.Set("no_such_key", "1"))
}
