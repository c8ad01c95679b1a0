package filex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniquePath_NoCollision(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.pdf")
	assert.Equal(t, p, UniquePath(p))
}

func TestUniquePath_SuffixesUntilFree(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report (2).pdf"), []byte("x"), 0o644))

	got := UniquePath(p)
	assert.Equal(t, filepath.Join(dir, "report (3).pdf"), got)
}

func TestUniquePath_NoExtension(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "LICENSE")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	assert.Equal(t, filepath.Join(dir, "LICENSE (2)"), UniquePath(p))
}

func TestDownloadsDir_ReturnsExistingDir(t *testing.T) {
	dir := DownloadsDir()
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
