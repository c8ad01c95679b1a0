// Package clipboard defines the adapter capability the core consumes from
// the platform layer, plus the polling watcher that turns clipboard changes
// into agent events.
package clipboard

import "time"

// Kind classifies clipboard content.
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindImage
	KindFiles
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindFiles:
		return "files"
	default:
		return "none"
	}
}

// Content is one clipboard value. Exactly one variant is populated,
// selected by Kind.
type Content struct {
	Kind  Kind
	Text  string
	Image []byte   // raw image bytes as the platform exposes them
	Files []string // absolute paths
}

// Adapter is the platform clipboard capability. Write operations are
// best-effort and may fail with common.ErrClipboardUnavailable.
type Adapter interface {
	Read() (Content, error)
	WriteText(text string) error
	WriteImage(pngBytes []byte) error
	WriteFiles(paths []string) error
}

// Notifier is an optional capability for native change notifications. When
// the adapter does not implement it, the watcher falls back to polling.
type Notifier interface {
	// Subscribe registers a change callback and returns a cancel function.
	Subscribe(fn func()) (cancel func(), err error)
}

// LazyOfferer is an optional capability for virtual-clipboard placeholders.
// Adapters implementing it receive announced transfers as placeholders; the
// returned channel yields once the user actually pastes, at which point the
// agent requests the download. Adapters without it get eager downloads.
type LazyOfferer interface {
	OfferLazy(transferID string, names []string) (<-chan struct{}, error)
}

// PollInterval is the default watcher poll period.
const PollInterval = 300 * time.Millisecond

// EchoMaskTTL is how long a remote write suppresses re-emission of the same
// content.
const EchoMaskTTL = 3 * time.Second
