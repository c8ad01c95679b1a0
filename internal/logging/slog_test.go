package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufLogger(buf *bytes.Buffer) *SlogLogger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h))
}

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := newBufLogger(&buf)
	ctx := context.Background()

	log.Debug(ctx, "d")
	log.Info(ctx, "i")
	log.Warn(ctx, "w")
	log.Error(ctx, "e")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "d", rec["msg"])
}

func TestSlogLogger_WithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	log := newBufLogger(&buf)

	child := log.With("module", "agent")
	child.Info(context.Background(), "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "agent", rec["module"])
}

func TestNop_DoesNotPanic(t *testing.T) {
	log := Nop()
	log.Info(context.Background(), "ignored", "k", "v")
	log.With("a", 1).Error(context.Background(), "ignored too")
}
