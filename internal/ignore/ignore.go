// Package ignore filters outbound files through ~/.syncignore,
// gitignore-style: blank lines and # comments are skipped, globs match
// against the basename, a trailing / marks directory intent, and a leading
// ! negates. The last matching pattern wins.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const fileName = ".syncignore"

// defaultPatterns seeds a fresh .syncignore on first run.
const defaultPatterns = `# yank ignore file
# Add patterns here to exclude files from syncing.
# Uses gitignore-style patterns; basenames are matched.

# System files
.DS_Store
Thumbs.db
desktop.ini
*.lnk

# Temporary files
*.tmp
*.temp
*.bak
*.swp
*.swo
*~
~$*

# Version control and IDE metadata
.git/
.idea/
.vscode/
`

type pattern struct {
	glob    string
	negated bool
	dirOnly bool
}

// Filter holds the parsed pattern list.
type Filter struct {
	patterns []pattern
}

// Load reads ~/.syncignore, creating it with the default pattern set when
// absent.
func Load() (*Filter, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("home dir: %w", err)
	}
	path := filepath.Join(home, fileName)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte(defaultPatterns), 0o644); err != nil {
			return nil, fmt.Errorf("seed %s: %w", path, err)
		}
	}
	return LoadFrom(path)
}

// LoadFrom reads a pattern file at an explicit path. A missing file yields
// an empty filter.
func LoadFrom(path string) (*Filter, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Filter{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var filter Filter
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		filter.add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &filter, nil
}

// Parse builds a filter from raw pattern lines. Used by tests, and with nil
// lines for an empty filter when no .syncignore is loaded.
func Parse(lines []string) *Filter {
	var filter Filter
	for _, line := range lines {
		filter.add(line)
	}
	return &filter
}

func (f *Filter) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	p := pattern{}
	if strings.HasPrefix(line, "!") {
		p.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	p.glob = line
	f.patterns = append(f.patterns, p)
}

// Match reports whether a file with the given basename should be dropped.
// Directory-intent patterns are skipped: they match neither file names nor
// folder names, so they never cause a drop.
func (f *Filter) Match(basename string) bool {
	ignored := false
	for _, p := range f.patterns {
		if p.dirOnly {
			continue
		}
		ok, err := doublestar.Match(p.glob, basename)
		if err != nil || !ok {
			continue
		}
		ignored = !p.negated
	}
	return ignored
}

// Apply partitions paths into kept and dropped by basename.
func (f *Filter) Apply(paths []string) (kept, dropped []string) {
	for _, p := range paths {
		if f.Match(filepath.Base(p)) {
			dropped = append(dropped, p)
		} else {
			kept = append(kept, p)
		}
	}
	return kept, dropped
}
