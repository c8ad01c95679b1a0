package clipboard

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/yank/internal/logging"
)

// Watcher polls the adapter and emits a change exactly when the observed
// content hash differs from both the last emitted snapshot and any active
// echo mask. The echo mask is installed after every incoming remote write so
// the agent never bounces a value back to its origin.
type Watcher struct {
	adapter  Adapter
	log      logging.Logger
	interval time.Duration
	emit     func(Content)

	mu       sync.Mutex
	last     Snapshot
	mask     Snapshot
	maskTTL  time.Time
	maskLife time.Duration
}

func NewWatcher(adapter Adapter, log logging.Logger, interval time.Duration, emit func(Content)) *Watcher {
	if interval <= 0 {
		interval = PollInterval
	}
	return &Watcher{
		adapter:  adapter,
		log:      log.With("module", "watcher"),
		interval: interval,
		emit:     emit,
		maskLife: EchoMaskTTL,
	}
}

// SetEchoMask records the snapshot of a value just installed by a remote
// write. The mask expires after EchoMaskTTL.
func (w *Watcher) SetEchoMask(s Snapshot) {
	w.mu.Lock()
	w.mask = s
	w.maskTTL = time.Now().Add(w.maskLife)
	// The remote value is also the new baseline: only a further local copy
	// should emit.
	w.last = s
	w.mu.Unlock()
}

// Run polls until ctx is done. If the adapter supports native notifications,
// each notification triggers an immediate poll on top of the ticker.
func (w *Watcher) Run(ctx context.Context) {
	kick := make(chan struct{}, 1)
	if n, ok := w.adapter.(Notifier); ok {
		if cancel, err := n.Subscribe(func() {
			select {
			case kick <- struct{}{}:
			default:
			}
		}); err == nil {
			defer cancel()
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}
		w.poll(ctx)
	}
}

func (w *Watcher) poll(ctx context.Context) {
	content, err := w.adapter.Read()
	if err != nil {
		w.log.Debug(ctx, "clipboard read failed", "error", err)
		return
	}
	if content.Kind == KindNone {
		return
	}

	snap := TakeSnapshot(content)

	w.mu.Lock()
	if snap.Equal(w.last) {
		w.mu.Unlock()
		return
	}
	if time.Now().Before(w.maskTTL) && snap.Equal(w.mask) {
		w.mu.Unlock()
		return
	}
	w.last = snap
	w.mu.Unlock()

	w.log.Debug(ctx, "clipboard change", "kind", content.Kind.String())
	w.emit(content)
}
