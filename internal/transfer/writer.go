package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/filex"
)

// Writer assembles one received file in a sibling `<name>.part` temp file
// and atomically renames it into place once the full-content checksum
// verifies.
type Writer struct {
	destDir   string
	name      string
	tmpPath   string
	f         *os.File
	bytesDone int64
}

func NewWriter(destDir, name string) (*Writer, error) {
	// Announced names are basenames by contract; Base guards against a
	// malicious peer smuggling path separators.
	name = filepath.Base(name)
	tmpPath := filepath.Join(destDir, name+".part")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmpPath, err)
	}
	return &Writer{destDir: destDir, name: name, tmpPath: tmpPath, f: f}, nil
}

// WriteChunk verifies the chunk's own checksum and writes it at its stated
// offset.
func (w *Writer) WriteChunk(offset int64, data []byte, chunkChecksum string) error {
	if chunkChecksum != "" && ChecksumBytes(data) != chunkChecksum {
		return fmt.Errorf("%w: chunk at offset %d", common.ErrChecksumMismatch, offset)
	}
	if _, err := w.f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	w.bytesDone += int64(len(data))
	return nil
}

// BytesDone is the number of payload bytes written so far.
func (w *Writer) BytesDone() int64 { return w.bytesDone }

// Finalize verifies the full temp file against the announced checksum and
// renames it to its final name, de-duplicating on collision. On mismatch the
// temp file is deleted and ErrChecksumMismatch returned.
func (w *Writer) Finalize(wantChecksum string) (string, error) {
	if err := w.f.Sync(); err != nil {
		w.Abort()
		return "", fmt.Errorf("sync: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		w.Abort()
		return "", fmt.Errorf("seek: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, w.f); err != nil {
		w.Abort()
		return "", fmt.Errorf("verify: %w", err)
	}
	if err := w.f.Close(); err != nil {
		w.f = nil
		w.Abort()
		return "", fmt.Errorf("close: %w", err)
	}
	w.f = nil

	if got := hex.EncodeToString(h.Sum(nil)); got != wantChecksum {
		os.Remove(w.tmpPath)
		return "", fmt.Errorf("%w: got %s want %s", common.ErrChecksumMismatch, got, wantChecksum)
	}

	final := filex.UniquePath(filepath.Join(w.destDir, w.name))
	if err := os.Rename(w.tmpPath, final); err != nil {
		os.Remove(w.tmpPath)
		return "", fmt.Errorf("finalize %s: %w", final, err)
	}
	return final, nil
}

// Abort discards the temp file. Safe to call more than once.
func (w *Writer) Abort() {
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
	os.Remove(w.tmpPath)
}
