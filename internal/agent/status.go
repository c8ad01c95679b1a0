package agent

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/yank/internal/protocol"
)

// State of the agent's single-peer connection supervisor.
type State string

const (
	StateUnpaired       State = "UNPAIRED"
	StateIdle           State = "IDLE"
	StateConnecting     State = "CONNECTING"
	StateAuthenticating State = "AUTHENTICATING"
	StateConnected      State = "CONNECTED"
	StateDegraded       State = "DEGRADED"
	StateClosed         State = "CLOSED"
)

// Callbacks is the status/progress surface a UI layer subscribes to. All
// callbacks fire on agent goroutines and must not block. Nil members are
// skipped.
type Callbacks struct {
	OnState     func(state State)
	OnAnnounced func(transferID string, files []protocol.FileMetadata)
	OnProgress  func(transferID string, bytesDone, bytesTotal int64, speedBPS float64, etaSeconds float64)
	OnComplete  func(transferID string, paths []string)
	OnError     func(kind error, detail string)
}

func (c *Callbacks) fireState(s State) {
	if c.OnState != nil {
		c.OnState(s)
	}
}

func (c *Callbacks) fireAnnounced(id string, files []protocol.FileMetadata) {
	if c.OnAnnounced != nil {
		c.OnAnnounced(id, files)
	}
}

func (c *Callbacks) fireProgress(id string, done, total int64, speed, eta float64) {
	if c.OnProgress != nil {
		c.OnProgress(id, done, total, speed, eta)
	}
}

func (c *Callbacks) fireComplete(id string, paths []string) {
	if c.OnComplete != nil {
		c.OnComplete(id, paths)
	}
}

func (c *Callbacks) fireError(kind error, detail string) {
	if c.OnError != nil {
		c.OnError(kind, detail)
	}
}

// speedWindow is the EMA horizon for transfer speed.
const speedWindow = 2 * time.Second

// speedometer tracks bytes-per-second as an exponential moving average over
// a 2 s window and derives an ETA from it.
type speedometer struct {
	mu        sync.Mutex
	ema       float64
	lastAt    time.Time
	lastBytes int64
}

// update records an absolute byte count and returns (speed B/s, ETA s).
func (s *speedometer) update(bytesDone, bytesTotal int64) (float64, float64) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastAt.IsZero() {
		s.lastAt = now
		s.lastBytes = bytesDone
		return 0, 0
	}

	dt := now.Sub(s.lastAt)
	if dt <= 0 {
		dt = time.Millisecond
	}
	instant := float64(bytesDone-s.lastBytes) / dt.Seconds()

	alpha := dt.Seconds() / speedWindow.Seconds()
	if alpha > 1 {
		alpha = 1
	}
	s.ema = s.ema*(1-alpha) + instant*alpha
	s.lastAt = now
	s.lastBytes = bytesDone

	speed := s.ema
	eta := float64(bytesTotal-bytesDone) / max(speed, 1)
	return speed, eta
}
