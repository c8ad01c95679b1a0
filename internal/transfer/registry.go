// Package transfer implements the lazy transfer engine: the two-sided
// registry of announced and pending transfers, and the chunked file
// reader/writer that streams content on demand.
package transfer

import (
	"time"

	"sync"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/yank/internal/protocol"
)

// Status of a transfer record.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusTransferring Status = "TRANSFERRING"
	StatusComplete     Status = "COMPLETE"
	StatusFailed       Status = "FAILED"
	StatusExpired      Status = "EXPIRED"
	StatusCanceled     Status = "CANCELED"
)

const (
	// DefaultTTL is how long an announce stays claimable.
	DefaultTTL = 300 * time.Second

	// SweepInterval is the janitor period.
	SweepInterval = 30 * time.Second
)

// NewID returns a fresh random transfer id: a version 4 UUID (128 bits, 122
// of them random) in its 36-character text form.
func NewID() string {
	return uuid.NewString()
}

// Record tracks one transfer on either side. SourcePaths is populated only on
// the announcing side.
type Record struct {
	TransferID  string
	Files       []protocol.FileMetadata
	SourcePaths []string
	AnnouncedAt time.Time
	ExpiresAt   time.Time
	Status      Status
	BytesDone   int64
	BytesTotal  int64
}

func (r *Record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Registry holds announced (sender-owned) and pending (receiver-owned)
// transfers. Every operation is serialized by one mutex; nothing here does
// I/O while holding it.
type Registry struct {
	mu        sync.Mutex
	announced map[string]*Record
	pending   map[string]*Record
	ttl       time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		announced: map[string]*Record{},
		pending:   map[string]*Record{},
		ttl:       ttl,
	}
}

// RegisterAnnounced creates the sender-side record for a fresh announce.
func (g *Registry) RegisterAnnounced(id string, files []protocol.FileMetadata, sourcePaths []string) Record {
	now := time.Now()
	rec := &Record{
		TransferID:  id,
		Files:       files,
		SourcePaths: sourcePaths,
		AnnouncedAt: now,
		ExpiresAt:   now.Add(g.ttl),
		Status:      StatusPending,
		BytesTotal:  protocol.TotalSize(files),
	}
	g.mu.Lock()
	g.announced[id] = rec
	g.mu.Unlock()
	return *rec
}

// RegisterPending creates the receiver-side record on announce receipt.
func (g *Registry) RegisterPending(id string, files []protocol.FileMetadata) Record {
	now := time.Now()
	rec := &Record{
		TransferID:  id,
		Files:       files,
		AnnouncedAt: now,
		ExpiresAt:   now.Add(g.ttl),
		Status:      StatusPending,
		BytesTotal:  protocol.TotalSize(files),
	}
	g.mu.Lock()
	g.pending[id] = rec
	g.mu.Unlock()
	return *rec
}

// GetAnnounced returns a copy of the sender-side record. ok is false when the
// record is missing or already past its deadline.
func (g *Registry) GetAnnounced(id string) (Record, bool) {
	return g.get(g.announced, id)
}

// GetPending returns a copy of the receiver-side record.
func (g *Registry) GetPending(id string) (Record, bool) {
	return g.get(g.pending, id)
}

func (g *Registry) get(m map[string]*Record, id string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := m[id]
	if !ok || rec.expired(time.Now()) && rec.Status != StatusTransferring {
		return Record{}, false
	}
	return *rec, true
}

// UpdateProgress sets absolute bytes done on whichever side holds the record.
func (g *Registry) UpdateProgress(id string, bytesDone int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.announced[id]; ok {
		rec.BytesDone = bytesDone
	}
	if rec, ok := g.pending[id]; ok {
		rec.BytesDone = bytesDone
	}
}

// Mark sets the record's status on whichever side holds it.
func (g *Registry) Mark(id string, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.announced[id]; ok {
		rec.Status = status
	}
	if rec, ok := g.pending[id]; ok {
		rec.Status = status
	}
}

// Remove drops the record from both sides.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.announced, id)
	delete(g.pending, id)
}

// FailActive marks every TRANSFERRING record FAILED and returns their ids.
// Called on connection loss. The records stay in the registry; removing
// them is left to the caller.
func (g *Registry) FailActive() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var failed []string
	for _, m := range []map[string]*Record{g.announced, g.pending} {
		for id, rec := range m {
			if rec.Status == StatusTransferring {
				rec.Status = StatusFailed
				failed = append(failed, id)
			}
		}
	}
	return failed
}

// SweepExpired removes records past their deadline and returns their ids.
// A TRANSFERRING record gets one TTL extension instead of removal.
func (g *Registry) SweepExpired() []string {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []string
	for _, m := range []map[string]*Record{g.announced, g.pending} {
		// Clone keys so removal never happens mid-range.
		ids := make([]string, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		for _, id := range ids {
			rec := m[id]
			if !rec.expired(now) {
				continue
			}
			if rec.Status == StatusTransferring {
				rec.ExpiresAt = rec.ExpiresAt.Add(g.ttl)
				continue
			}
			delete(m, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Active returns copies of every live record, pending side first. Used by
// the status surface.
func (g *Registry) Active() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Record, 0, len(g.pending)+len(g.announced))
	for _, rec := range g.pending {
		out = append(out, *rec)
	}
	for _, rec := range g.announced {
		out = append(out, *rec)
	}
	return out
}
