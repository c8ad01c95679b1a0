package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestChunkReader_SplitsFile(t *testing.T) {
	path, data := writeTemp(t, 2500)
	r, err := OpenChunkReader(path, 1000)
	require.NoError(t, err)
	defer r.Close()

	var offsets []int64
	var sizes []int
	var assembled []byte
	for {
		off, chunk, sum, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, ChecksumBytes(chunk), sum)
		offsets = append(offsets, off)
		sizes = append(sizes, len(chunk))
		assembled = append(assembled, chunk...)
	}

	assert.Equal(t, []int64{0, 1000, 2000}, offsets)
	assert.Equal(t, []int{1000, 1000, 500}, sizes)
	assert.True(t, bytes.Equal(data, assembled))
}

func TestChunkReader_ExactChunkSize(t *testing.T) {
	path, _ := writeTemp(t, 1000)
	r, err := OpenChunkReader(path, 1000)
	require.NoError(t, err)
	defer r.Close()

	_, chunk, _, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, chunk, 1000)

	_, _, _, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestChunkReader_EmptyFile(t *testing.T) {
	path, _ := writeTemp(t, 0)
	r, err := OpenChunkReader(path, 1000)
	require.NoError(t, err)
	defer r.Close()

	_, _, _, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestChunkReader_Seek(t *testing.T) {
	path, data := writeTemp(t, 2500)
	r, err := OpenChunkReader(path, 1000)
	require.NoError(t, err)
	defer r.Close()

	_, _, _, err = r.Next()
	require.NoError(t, err)

	require.NoError(t, r.Seek(2000))
	off, chunk, _, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(2000), off)
	assert.Equal(t, data[2000:], chunk)
}

func TestFileDigest(t *testing.T) {
	path, data := writeTemp(t, 4096)
	size, sum, err := FileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), size)

	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), sum)
}

func TestFileDigest_EmptyFile(t *testing.T) {
	path, _ := writeTemp(t, 0)
	size, sum, err := FileDigest(path)
	require.NoError(t, err)
	assert.Zero(t, size)
	// SHA-256 of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sum)
}

func TestWriter_AssemblesAndFinalizes(t *testing.T) {
	srcPath, data := writeTemp(t, 2500)
	_, want, err := FileDigest(srcPath)
	require.NoError(t, err)

	destDir := t.TempDir()
	w, err := NewWriter(destDir, "dest.bin")
	require.NoError(t, err)

	r, err := OpenChunkReader(srcPath, 1000)
	require.NoError(t, err)
	defer r.Close()
	for {
		off, chunk, sum, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NoError(t, w.WriteChunk(off, chunk, sum))
	}
	assert.Equal(t, int64(2500), w.BytesDone())

	final, err := w.Finalize(want)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "dest.bin"), final)

	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The temp file is gone.
	_, err = os.Stat(filepath.Join(destDir, "dest.bin.part"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_CollisionSuffix(t *testing.T) {
	destDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(destDir, "dest.bin"), []byte("old"), 0o644))

	w, err := NewWriter(destDir, "dest.bin")
	require.NoError(t, err)
	payload := []byte("fresh")
	require.NoError(t, w.WriteChunk(0, payload, ""))

	final, err := w.Finalize(ChecksumBytes(payload))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "dest (2).bin"), final)

	// The original is untouched.
	old, err := os.ReadFile(filepath.Join(destDir, "dest.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), old)
}

func TestWriter_ChecksumMismatchDeletesTemp(t *testing.T) {
	destDir := t.TempDir()
	w, err := NewWriter(destDir, "dest.bin")
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk(0, []byte("data"), ""))

	_, err = w.Finalize("00000000000000000000000000000000deadbeefdeadbeefdeadbeefdeadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrChecksumMismatch))

	_, statErr := os.Stat(filepath.Join(destDir, "dest.bin.part"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(destDir, "dest.bin"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriter_RejectsCorruptChunk(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "dest.bin")
	require.NoError(t, err)
	defer w.Abort()

	err = w.WriteChunk(0, []byte("data"), ChecksumBytes([]byte("other")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrChecksumMismatch))
}

func TestWriter_Abort(t *testing.T) {
	destDir := t.TempDir()
	w, err := NewWriter(destDir, "dest.bin")
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk(0, []byte("partial"), ""))

	w.Abort()
	_, statErr := os.Stat(filepath.Join(destDir, "dest.bin.part"))
	assert.True(t, os.IsNotExist(statErr))

	// Idempotent.
	w.Abort()
}

func TestWriter_StripsDirectoryComponents(t *testing.T) {
	destDir := t.TempDir()
	w, err := NewWriter(destDir, "../escape.bin")
	require.NoError(t, err)
	payload := []byte("x")
	require.NoError(t, w.WriteChunk(0, payload, ""))

	final, err := w.Finalize(ChecksumBytes(payload))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "escape.bin"), final)
}
