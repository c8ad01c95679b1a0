package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_Glob(t *testing.T) {
	f := Parse([]string{"*.log"})

	assert.True(t, f.Match("foo.log"))
	assert.False(t, f.Match("foo.log.txt"))
	assert.False(t, f.Match("foo.txt"))
}

func TestMatch_CommentsAndBlanks(t *testing.T) {
	f := Parse([]string{"", "# a comment", "*.tmp"})

	assert.True(t, f.Match("x.tmp"))
	assert.False(t, f.Match("# a comment"))
}

func TestMatch_Negation(t *testing.T) {
	f := Parse([]string{"*.log", "!keep.log"})

	assert.True(t, f.Match("debug.log"))
	assert.False(t, f.Match("keep.log"))

	// Last match wins: re-ignoring after a negation sticks.
	f = Parse([]string{"*.log", "!keep.log", "keep.*"})
	assert.True(t, f.Match("keep.log"))
}

func TestMatch_DirectoryPatternsSkipFiles(t *testing.T) {
	f := Parse([]string{"node_modules/"})

	assert.False(t, f.Match("node_modules"))
}

func TestMatch_PrefixPatterns(t *testing.T) {
	f := Parse([]string{"~$*"})

	assert.True(t, f.Match("~$report.docx"))
	assert.False(t, f.Match("report.docx"))
}

func TestApply(t *testing.T) {
	f := Parse([]string{"*.log"})
	kept, dropped := f.Apply([]string{"/a/app.log", "/a/data.csv", "/b/notes.txt"})

	assert.Equal(t, []string{"/a/data.csv", "/b/notes.txt"}, kept)
	assert.Equal(t, []string{"/a/app.log"}, dropped)
}

func TestLoadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".syncignore")
	require.NoError(t, os.WriteFile(path, []byte("# patterns\n*.bak\n\n!important.bak\n"), 0o644))

	f, err := LoadFrom(path)
	require.NoError(t, err)
	assert.True(t, f.Match("old.bak"))
	assert.False(t, f.Match("important.bak"))
}

func TestLoadFrom_Missing(t *testing.T) {
	f, err := LoadFrom(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, f.Match("anything"))
}
