package clipboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/yank/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitRecorder struct {
	mu    sync.Mutex
	items []Content
}

func (r *emitRecorder) emit(c Content) {
	r.mu.Lock()
	r.items = append(r.items, c)
	r.mu.Unlock()
}

func (r *emitRecorder) snapshot() []Content {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Content{}, r.items...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWatcher_EmitsOnChange(t *testing.T) {
	adapter := NewMemory()
	rec := &emitRecorder{}
	w := NewWatcher(adapter, logging.Nop(), 10*time.Millisecond, rec.emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, adapter.WriteText("hello world"))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	got := rec.snapshot()[0]
	assert.Equal(t, KindText, got.Kind)
	assert.Equal(t, "hello world", got.Text)
}

func TestWatcher_SameValueEmitsOnce(t *testing.T) {
	adapter := NewMemory()
	rec := &emitRecorder{}
	w := NewWatcher(adapter, logging.Nop(), 10*time.Millisecond, rec.emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, adapter.WriteText("repeat"))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	// The same value again, plus several poll cycles.
	require.NoError(t, adapter.WriteText("repeat"))
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestWatcher_EchoMaskSuppressesRemoteWrite(t *testing.T) {
	adapter := NewMemory()
	rec := &emitRecorder{}
	w := NewWatcher(adapter, logging.Nop(), 10*time.Millisecond, rec.emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Simulate an incoming remote write: install content, then mask it.
	remote := Content{Kind: KindText, Text: "from the peer"}
	w.SetEchoMask(TakeSnapshot(remote))
	require.NoError(t, adapter.WriteText("from the peer"))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	// A genuinely new local copy still emits.
	require.NoError(t, adapter.WriteText("typed locally"))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
}

func TestWatcher_ChangeAfterMaskEmits(t *testing.T) {
	adapter := NewMemory()
	rec := &emitRecorder{}
	w := NewWatcher(adapter, logging.Nop(), 10*time.Millisecond, rec.emit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.SetEchoMask(TakeSnapshot(Content{Kind: KindText, Text: "masked"}))
	require.NoError(t, adapter.WriteText("different"))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
}

func TestTakeSnapshot_TextVsImage(t *testing.T) {
	text := TakeSnapshot(Content{Kind: KindText, Text: "abc"})
	image := TakeSnapshot(Content{Kind: KindImage, Image: []byte("abc")})

	// Same bytes, different kinds: must not mask each other.
	assert.False(t, text.Equal(image))
	assert.Equal(t, text.Hash, image.Hash)
}

func TestTakeSnapshot_FilesOrderIndependent(t *testing.T) {
	a := TakeSnapshot(Content{Kind: KindFiles, Files: []string{"/tmp/a", "/tmp/b"}})
	b := TakeSnapshot(Content{Kind: KindFiles, Files: []string{"/tmp/b", "/tmp/a"}})
	assert.True(t, a.Equal(b))
}
