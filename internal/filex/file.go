// Package filex contains small filesystem helpers shared by the pairing
// store, config and transfer writer.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigDir returns ~/.yank, creating it with owner-only permissions if
// needed.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}

	dir := filepath.Join(home, ".yank")

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}

// DownloadsDir returns the directory received files land in: the user's
// Downloads folder when it exists, the OS temp directory otherwise.
func DownloadsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		dl := filepath.Join(home, "Downloads")
		if info, err := os.Stat(dl); err == nil && info.IsDir() {
			return dl
		}
	}
	return os.TempDir()
}

// UniquePath resolves a destination name collision by suffixing the stem with
// " (2)", " (3)", … until the path is free.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)

	for n := 2; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
